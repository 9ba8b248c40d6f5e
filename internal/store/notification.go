package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/domain"
)

// Limits applied to notification listings.
const (
	DefaultNotificationLimit = 50
	MaxNotificationLimit     = 100
)

// NotificationStore defines the interface for notification persistence.
type NotificationStore interface {
	// Create persists a new notification.
	Create(ctx context.Context, n *domain.Notification) error

	// Get returns a notification or ErrNotificationNotFound.
	Get(ctx context.Context, id uuid.UUID) (*domain.Notification, error)

	// List returns the recipient's notifications, newest first.
	List(ctx context.Context, recipient string, unreadOnly bool, limit int) ([]*domain.Notification, error)

	// MarkRead sets read/read_at if the notification is unread and returns
	// the stored notification.
	MarkRead(ctx context.Context, id uuid.UUID) (*domain.Notification, error)

	// MarkAllRead marks every unread notification of the recipient and
	// returns how many changed.
	MarkAllRead(ctx context.Context, recipient string) (int, error)

	// Delete removes a notification or returns ErrNotificationNotFound.
	Delete(ctx context.Context, id uuid.UUID) error

	// UnreadCount returns the number of unread notifications of the recipient.
	UnreadCount(ctx context.Context, recipient string) (int, error)
}

// NormalizeLimit applies the default and maximum page size.
func NormalizeLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
