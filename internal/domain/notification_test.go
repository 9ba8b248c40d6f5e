package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNotification(t *testing.T) {
	t.Parallel()

	n, err := NewNotification("job-1", "user-1", "done", "msg", NotificationTypeSuccess)
	require.NoError(t, err)
	assert.False(t, n.Read)
	assert.Nil(t, n.ReadAt)

	_, err = NewNotification("job-1", "", "done", "msg", NotificationTypeSuccess)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewNotification("job-1", "user-1", "done", "msg", "warning")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestNotificationMarkRead(t *testing.T) {
	t.Parallel()

	n, err := NewNotification("job-1", "user-1", "done", "msg", NotificationTypeInfo)
	require.NoError(t, err)

	first := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, n.MarkRead(first))
	assert.False(t, n.MarkRead(first.Add(time.Hour)))
	require.NotNil(t, n.ReadAt)
	assert.Equal(t, first, *n.ReadAt)
	assert.NoError(t, n.Validate())
}
