package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// MemoryBus is an in-process topic implementing Publisher and Source.
// Events are delivered to one consumer at a time, like a single consumer
// group; nothing survives a restart.
type MemoryBus struct {
	queue  chan JobEvent
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	logger *slog.Logger
}

var (
	_ Publisher = (*MemoryBus)(nil)
	_ Source    = (*MemoryBus)(nil)
)

// NewMemoryBus creates a bus buffering up to size undelivered events.
func NewMemoryBus(size int, logger *slog.Logger) *MemoryBus {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBus{
		queue:  make(chan JobEvent, size),
		done:   make(chan struct{}),
		logger: logger.With("component", "memory_event_bus"),
	}
}

// Publish enqueues the event, blocking while the buffer is full.
func (b *MemoryBus) Publish(ctx context.Context, event JobEvent) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrBusClosed
	}

	select {
	case <-b.done:
		return ErrBusClosed
	case b.queue <- event:
		b.logger.DebugContext(ctx, "event published",
			"job_id", event.JobID,
			"status", event.Status)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume delivers events to handler until ctx is done or the bus is closed.
func (b *MemoryBus) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.done:
			return nil
		case event := <-b.queue:
			if err := handler(ctx, event); err != nil {
				b.logger.ErrorContext(ctx, "handler failed to process event",
					"job_id", event.JobID,
					"error", err)
			}
		}
	}
}

// Close stops consumers and rejects further publishes.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

// Len returns the number of buffered, undelivered events.
func (b *MemoryBus) Len() int {
	return len(b.queue)
}
