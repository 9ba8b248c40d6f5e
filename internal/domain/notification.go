package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationType classifies a notification for display.
type NotificationType string

// Possible notification types
const (
	NotificationTypeSuccess NotificationType = "success"
	NotificationTypeError   NotificationType = "error"
	NotificationTypeInfo    NotificationType = "info"
)

// Notification is a user-facing message created when a job reaches a
// terminal state. It references the job but does not own it.
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	JobID     string           `json:"job_id"`
	Recipient string           `json:"recipient"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
	ReadAt    *time.Time       `json:"read_at,omitempty"`
}

// NewNotification creates an unread notification.
func NewNotification(
	jobID, recipient, title, message string,
	notificationType NotificationType,
) (*Notification, error) {
	n := &Notification{
		ID:        uuid.New(),
		JobID:     jobID,
		Recipient: recipient,
		Title:     title,
		Message:   message,
		Type:      notificationType,
		CreatedAt: time.Now().UTC(),
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return n, nil
}

// Validate checks if the notification has valid data.
func (n *Notification) Validate() error {
	if n.ID == uuid.Nil {
		return fmt.Errorf("%w: notification id cannot be empty", ErrValidation)
	}
	if n.Recipient == "" {
		return fmt.Errorf("%w: recipient cannot be empty", ErrValidation)
	}
	if n.Title == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrValidation)
	}
	switch n.Type {
	case NotificationTypeSuccess, NotificationTypeError, NotificationTypeInfo:
	default:
		return fmt.Errorf("%w: unknown notification type %q", ErrValidation, n.Type)
	}
	if n.Read != (n.ReadAt != nil) {
		return fmt.Errorf("%w: read_at must be set iff read", ErrValidation)
	}
	return nil
}

// MarkRead flags the notification as read. It reports false if it was
// already read, in which case read_at is left untouched.
func (n *Notification) MarkRead(now time.Time) bool {
	if n.Read {
		return false
	}
	t := now.UTC()
	n.Read = true
	n.ReadAt = &t
	return true
}
