package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedNotification(t *testing.T, s *NotificationStore, recipient string, createdAt time.Time) *domain.Notification {
	t.Helper()
	n, err := domain.NewNotification("job-1", recipient, "title", "message", domain.NotificationTypeSuccess)
	require.NoError(t, err)
	n.CreatedAt = createdAt
	require.NoError(t, s.Create(context.Background(), n))
	return n
}

func TestNotificationStore(t *testing.T) {
	ctx := context.Background()
	s := NewNotificationStore()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	first := seedNotification(t, s, "user-1", base)
	second := seedNotification(t, s, "user-1", base.Add(time.Minute))
	seedNotification(t, s, "user-2", base)

	list, err := s.List(ctx, "user-1", false, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")

	count, err := s.UnreadCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	read, err := s.MarkRead(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, read.Read)
	require.NotNil(t, read.ReadAt)

	unread, err := s.List(ctx, "user-1", true, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, second.ID, unread[0].ID)

	changed, err := s.MarkAllRead(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	count, err = s.UnreadCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, s.Delete(ctx, first.ID))
	assert.ErrorIs(t, s.Delete(ctx, first.ID), domain.ErrNotificationNotFound)

	_, err = s.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNotificationStoreListLimit(t *testing.T) {
	s := NewNotificationStore()
	base := time.Now()
	for i := 0; i < 5; i++ {
		seedNotification(t, s, "user-1", base.Add(time.Duration(i)*time.Second))
	}

	list, err := s.List(context.Background(), "user-1", false, 3)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}
