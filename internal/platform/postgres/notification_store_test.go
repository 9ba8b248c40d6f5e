package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var notificationRowColumns = []string{
	"id", "job_id", "recipient", "title", "message", "type", "read", "created_at", "read_at",
}

func newMockNotificationStore(t *testing.T) (*PostgresNotificationStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})

	s := NewPostgresNotificationStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.timeFunc = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestNotificationStoreCreate(t *testing.T) {
	s, mock := newMockNotificationStore(t)
	n, err := domain.NewNotification("job-1", "user-1", "Analysis complete", "done", domain.NotificationTypeSuccess)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO notifications").
		WithArgs(n.ID, "job-1", "user-1", "Analysis complete", "done", n.Type, false, n.CreatedAt, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Create(context.Background(), n))
}

func TestNotificationStoreCreateRejectsInvalid(t *testing.T) {
	s, _ := newMockNotificationStore(t)

	err := s.Create(context.Background(), &domain.Notification{ID: uuid.New()})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNotificationStoreGetNotFound(t *testing.T) {
	s, mock := newMockNotificationStore(t)
	id := uuid.New()

	mock.ExpectQuery("FROM notifications WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(notificationRowColumns))

	_, err := s.Get(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrNotificationNotFound)
	assert.ErrorIs(t, err, domain.ErrNotificationNotFound)
}

func TestNotificationStoreListUnread(t *testing.T) {
	s, mock := newMockNotificationStore(t)
	newer, older := uuid.New(), uuid.New()
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("WHERE recipient = \\$1 AND NOT read ORDER BY created_at DESC LIMIT \\$2").
		WithArgs("user-1", 10).
		WillReturnRows(sqlmock.NewRows(notificationRowColumns).
			AddRow(newer.String(), "job-2", "user-1", "Analysis failed", "boom", "error", false, created.Add(time.Minute), nil).
			AddRow(older.String(), "job-1", "user-1", "Analysis complete", "ok", "success", false, created, nil))

	list, err := s.List(context.Background(), "user-1", true, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer, list[0].ID)
	assert.Equal(t, domain.NotificationTypeError, list[0].Type)
	assert.Nil(t, list[0].ReadAt)
	assert.Equal(t, older, list[1].ID)
}

func TestNotificationStoreMarkRead(t *testing.T) {
	s, mock := newMockNotificationStore(t)
	id := uuid.New()
	now := s.timeFunc()

	mock.ExpectExec("UPDATE notifications SET read = TRUE").
		WithArgs(id, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM notifications WHERE id = \\$1").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(notificationRowColumns).
			AddRow(id.String(), "job-1", "user-1", "t", "m", "info", true, now.Add(-time.Hour), now))

	n, err := s.MarkRead(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, n.Read)
	require.NotNil(t, n.ReadAt)
	assert.True(t, n.ReadAt.Equal(now))
}

func TestNotificationStoreMarkAllRead(t *testing.T) {
	s, mock := newMockNotificationStore(t)

	mock.ExpectExec("WHERE recipient = \\$1 AND NOT read").
		WithArgs("user-1", s.timeFunc()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := s.MarkAllRead(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestNotificationStoreDelete(t *testing.T) {
	s, mock := newMockNotificationStore(t)
	id := uuid.New()

	mock.ExpectExec("DELETE FROM notifications").
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.Delete(context.Background(), id), store.ErrNotificationNotFound)

	mock.ExpectExec("DELETE FROM notifications").
		WithArgs(id).
		WillReturnError(errors.New("connection reset"))
	err := s.Delete(context.Background(), id)
	var storeErr *store.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "notification", storeErr.Entity)
	assert.Equal(t, "delete", storeErr.Operation)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestNotificationStoreUnreadCount(t *testing.T) {
	s, mock := newMockNotificationStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := s.UnreadCount(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}
