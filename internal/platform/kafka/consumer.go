package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/phrazzld/scry-jobs/internal/events"
	"github.com/segmentio/kafka-go"
)

const (
	commitTimeout = 10 * time.Second
	fetchBackoff  = time.Second
)

// messageReader is the part of *kafka.Reader the consumer uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads job events as a member of a consumer group.
type Consumer struct {
	reader  messageReader
	logger  *slog.Logger
	backoff time.Duration
}

var _ events.Source = (*Consumer)(nil)

// NewConsumer joins groupID on topic. A new group starts at the earliest
// retained offset.
func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	if topic == "" || groupID == "" {
		return nil, errors.New("kafka topic and group id are required")
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
		StartOffset: kafka.FirstOffset,
	})
	c := newConsumer(r, logger)
	c.logger = c.logger.With("topic", topic, "group_id", groupID)
	return c, nil
}

func newConsumer(r messageReader, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		reader:  r,
		logger:  logger.With("component", "kafka_consumer"),
		backoff: fetchBackoff,
	}
}

// Consume fetches, handles and commits messages until ctx is done.
// Malformed payloads and handler errors are logged and the offset is
// committed anyway so one bad event never blocks the partition. A message
// whose handling was interrupted by ctx is left uncommitted and is
// redelivered after restart.
func (c *Consumer) Consume(ctx context.Context, handler events.Handler) error {
	c.logger.InfoContext(ctx, "consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.InfoContext(ctx, "consumer stopped")
				return nil
			}
			c.logger.ErrorContext(ctx, "failed to fetch message", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		c.handle(ctx, msg, handler)
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "consumer stopped before commit",
				"partition", msg.Partition,
				"offset", msg.Offset)
			return nil
		}

		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		err = c.reader.CommitMessages(commitCtx, msg)
		cancel()
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to commit offset",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler events.Handler) {
	event, err := events.Decode(msg.Value)
	if err != nil {
		c.logger.WarnContext(ctx, "skipping malformed event",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err)
		return
	}
	if err := handler(ctx, event); err != nil {
		c.logger.ErrorContext(ctx, "handler failed to process event",
			"job_id", event.JobID,
			"offset", msg.Offset,
			"error", err)
	}
}

// Close leaves the consumer group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
