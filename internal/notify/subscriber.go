package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/events"
	"github.com/phrazzld/scry-jobs/internal/store"
)

// Pusher delivers a message to every live connection of a user and
// returns the number of deliveries. realtime.Registry implements it.
type Pusher interface {
	Send(ctx context.Context, userID string, msg any) int
}

// Message is the live payload pushed for a new notification.
type Message struct {
	Type             string                  `json:"type"`
	ID               string                  `json:"id,omitempty"`
	JobID            string                  `json:"jobId"`
	TaskType         string                  `json:"taskType"`
	Status           domain.JobStatus        `json:"status"`
	Title            string                  `json:"title"`
	Message          string                  `json:"message"`
	NotificationType domain.NotificationType `json:"notificationType"`
	CreatedAt        time.Time               `json:"createdAt"`
}

// Subscriber consumes job events and fans them out as notifications.
type Subscriber struct {
	source events.Source
	store  store.NotificationStore
	pusher Pusher
	logger *slog.Logger
}

// NewSubscriber wires a subscriber.
func NewSubscriber(
	source events.Source,
	notifications store.NotificationStore,
	pusher Pusher,
	logger *slog.Logger,
) (*Subscriber, error) {
	if source == nil {
		return nil, errors.New("event source cannot be nil")
	}
	if notifications == nil {
		return nil, errors.New("notification store cannot be nil")
	}
	if pusher == nil {
		return nil, errors.New("pusher cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Subscriber{
		source: source,
		store:  notifications,
		pusher: pusher,
		logger: logger.With("component", "notification_subscriber"),
	}, nil
}

// Run consumes events until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "notification subscriber started")
	err := s.source.Consume(ctx, s.HandleEvent)
	s.logger.InfoContext(ctx, "notification subscriber stopped")
	return err
}

// HandleEvent processes one event. It only returns an error when the event
// could not be stored; the push is attempted either way.
func (s *Subscriber) HandleEvent(ctx context.Context, event events.JobEvent) error {
	log := s.logger.With("job_id", event.JobID, "status", event.Status)

	if event.Event != "" && event.Event != events.TaskCompleted {
		log.DebugContext(ctx, "ignoring unknown event type", "event", event.Event)
		return nil
	}
	if event.Owner == "" {
		log.WarnContext(ctx, "event has no owner, skipping")
		return nil
	}
	if !event.Status.IsTerminal() {
		log.WarnContext(ctx, "event status is not terminal, skipping")
		return nil
	}

	title, message, kind := Describe(event)
	n, err := domain.NewNotification(event.JobID, event.Owner, title, message, kind)
	if err != nil {
		log.ErrorContext(ctx, "invalid notification", "error", err)
		return err
	}

	var storeErr error
	if err := s.store.Create(ctx, n); err != nil {
		storeErr = fmt.Errorf("failed to store notification for job %s: %w", event.JobID, err)
		log.ErrorContext(ctx, "failed to store notification", "error", err)
	} else {
		log.InfoContext(ctx, "notification created",
			"notification_id", n.ID,
			"user_id", event.Owner)
	}

	msg := Message{
		Type:             "notification",
		JobID:            event.JobID,
		TaskType:         event.TaskType,
		Status:           event.Status,
		Title:            title,
		Message:          message,
		NotificationType: kind,
		CreatedAt:        n.CreatedAt,
	}
	if storeErr == nil {
		msg.ID = n.ID.String()
	}
	delivered := s.pusher.Send(ctx, event.Owner, msg)
	log.DebugContext(ctx, "notification pushed", "deliveries", delivered)

	return storeErr
}

// Describe derives the notification title, message and type for an event.
func Describe(event events.JobEvent) (string, string, domain.NotificationType) {
	name := DisplayName(event.TaskType)
	switch event.Status {
	case domain.JobStatusSucceeded:
		return fmt.Sprintf("✅ %s Hoàn Thành", name),
			fmt.Sprintf("Task %s đã xử lý thành công", event.TaskType),
			domain.NotificationTypeSuccess
	case domain.JobStatusCanceled:
		return fmt.Sprintf("ℹ️ %s Đã Hủy", name),
			fmt.Sprintf("Task %s đã bị hủy", event.TaskType),
			domain.NotificationTypeInfo
	default:
		message := event.Error
		if message == "" {
			message = fmt.Sprintf("Task %s xử lý thất bại", event.TaskType)
		}
		return fmt.Sprintf("❌ %s Thất Bại", name), message, domain.NotificationTypeError
	}
}

// DisplayName title-cases a task type: "clo_check" becomes "Clo Check".
func DisplayName(taskType string) string {
	words := strings.FieldsFunc(taskType, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	if len(words) == 0 {
		return "Task"
	}
	return strings.Join(words, " ")
}
