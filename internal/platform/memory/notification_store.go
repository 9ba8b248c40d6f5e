package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/store"
)

// NotificationStore implements store.NotificationStore in memory.
type NotificationStore struct {
	mu            sync.Mutex
	notifications map[uuid.UUID]*domain.Notification
	timeFunc      func() time.Time
}

var _ store.NotificationStore = (*NotificationStore)(nil)

// NewNotificationStore creates an empty NotificationStore.
func NewNotificationStore() *NotificationStore {
	return &NotificationStore{
		notifications: make(map[uuid.UUID]*domain.Notification),
		timeFunc:      time.Now,
	}
}

func cloneNotification(n *domain.Notification) *domain.Notification {
	c := *n
	if n.ReadAt != nil {
		t := *n.ReadAt
		c.ReadAt = &t
	}
	return &c
}

// Create stores a notification.
func (s *NotificationStore) Create(_ context.Context, n *domain.Notification) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.notifications[n.ID]; exists {
		return fmt.Errorf("%w: notification %s", store.ErrDuplicate, n.ID)
	}
	s.notifications[n.ID] = cloneNotification(n)
	return nil
}

// Get returns a copy of the notification.
func (s *NotificationStore) Get(_ context.Context, id uuid.UUID) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, store.ErrNotificationNotFound
	}
	return cloneNotification(n), nil
}

// List returns the recipient's notifications, newest first.
func (s *NotificationStore) List(
	_ context.Context,
	recipient string,
	unreadOnly bool,
	limit int,
) ([]*domain.Notification, error) {
	s.mu.Lock()
	var out []*domain.Notification
	for _, n := range s.notifications {
		if n.Recipient != recipient || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, cloneNotification(n))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return page(out, limit, 0), nil
}

// MarkRead flags the notification as read if it is unread.
func (s *NotificationStore) MarkRead(_ context.Context, id uuid.UUID) (*domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok {
		return nil, store.ErrNotificationNotFound
	}
	n.MarkRead(s.timeFunc())
	return cloneNotification(n), nil
}

// MarkAllRead marks every unread notification of the recipient.
func (s *NotificationStore) MarkAllRead(_ context.Context, recipient string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.timeFunc()
	count := 0
	for _, n := range s.notifications {
		if n.Recipient == recipient && n.MarkRead(now) {
			count++
		}
	}
	return count, nil
}

// Delete removes a notification.
func (s *NotificationStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notifications[id]; !ok {
		return store.ErrNotificationNotFound
	}
	delete(s.notifications, id)
	return nil
}

// UnreadCount counts the recipient's unread notifications.
func (s *NotificationStore) UnreadCount(_ context.Context, recipient string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, n := range s.notifications {
		if n.Recipient == recipient && !n.Read {
			count++
		}
	}
	return count, nil
}
