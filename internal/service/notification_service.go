package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/store"
)

// NotificationService exposes a caller's notifications.
type NotificationService interface {
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*domain.Notification, error)
	MarkRead(ctx context.Context, userID string, id uuid.UUID) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	UnreadCount(ctx context.Context, userID string) (int, error)
}

type notificationService struct {
	notifications store.NotificationStore
	logger        *slog.Logger
}

var _ NotificationService = (*notificationService)(nil)

// NewNotificationService creates a NotificationService.
func NewNotificationService(notifications store.NotificationStore, logger *slog.Logger) (NotificationService, error) {
	if notifications == nil {
		return nil, errors.New("notification store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &notificationService{
		notifications: notifications,
		logger:        logger.With("component", "notification_service"),
	}, nil
}

func (s *notificationService) List(
	ctx context.Context,
	userID string,
	unreadOnly bool,
	limit int,
) ([]*domain.Notification, error) {
	limit = store.NormalizeLimit(limit, store.DefaultNotificationLimit, store.MaxNotificationLimit)
	items, err := s.notifications.List(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, wrapError("list_notifications", "failed to list notifications", err)
	}
	return items, nil
}

func (s *notificationService) MarkRead(ctx context.Context, userID string, id uuid.UUID) (*domain.Notification, error) {
	if err := s.authorize(ctx, userID, id); err != nil {
		return nil, err
	}
	n, err := s.notifications.MarkRead(ctx, id)
	if err != nil {
		return nil, wrapError("mark_notification_read", "failed to mark notification read", err)
	}
	return n, nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID string) (int, error) {
	count, err := s.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, wrapError("mark_all_notifications_read", "failed to mark notifications read", err)
	}
	s.logger.DebugContext(ctx, "notifications marked read", "user_id", userID, "count", count)
	return count, nil
}

func (s *notificationService) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	if err := s.authorize(ctx, userID, id); err != nil {
		return err
	}
	if err := s.notifications.Delete(ctx, id); err != nil {
		return wrapError("delete_notification", "failed to delete notification", err)
	}
	return nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.notifications.UnreadCount(ctx, userID)
	if err != nil {
		return 0, wrapError("count_notifications", "failed to count notifications", err)
	}
	return count, nil
}

func (s *notificationService) authorize(ctx context.Context, userID string, id uuid.UUID) error {
	n, err := s.notifications.Get(ctx, id)
	if err != nil {
		return wrapError("get_notification", "failed to load notification", err)
	}
	if n.Recipient != userID {
		return ErrForbidden
	}
	return nil
}
