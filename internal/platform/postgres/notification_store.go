package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/store"
)

const notificationColumns = `id, job_id, recipient, title, message, type, read, created_at, read_at`

// PostgresNotificationStore implements store.NotificationStore.
type PostgresNotificationStore struct {
	db       store.DBTX
	logger   *slog.Logger
	timeFunc func() time.Time
}

var _ store.NotificationStore = (*PostgresNotificationStore)(nil)

// NewPostgresNotificationStore creates a new PostgresNotificationStore.
func NewPostgresNotificationStore(db store.DBTX, logger *slog.Logger) *PostgresNotificationStore {
	return &PostgresNotificationStore{
		db:       db,
		logger:   logger.With("component", "notification_store"),
		timeFunc: time.Now,
	}
}

// Create persists a notification.
func (s *PostgresNotificationStore) Create(ctx context.Context, n *domain.Notification) error {
	if err := n.Validate(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}

	query := `INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := s.db.ExecContext(ctx, query,
		n.ID, n.JobID, n.Recipient, n.Title, n.Message, n.Type, n.Read, n.CreatedAt, n.ReadAt)
	if err != nil {
		s.logger.Error("failed to create notification", "notification_id", n.ID, "error", err)
		return store.NewStoreError("notification", "create", "database error", MapError(err))
	}
	return nil
}

// Get returns a notification by ID.
func (s *PostgresNotificationStore) Get(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	n, err := scanNotification(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotificationNotFound
		}
		return nil, store.NewStoreError("notification", "get", "database error", MapError(err))
	}
	return n, nil
}

// List returns the recipient's notifications, newest first.
func (s *PostgresNotificationStore) List(
	ctx context.Context,
	recipient string,
	unreadOnly bool,
	limit int,
) ([]*domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient = $1`
	if unreadOnly {
		query += ` AND NOT read`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, recipient, limit)
	if err != nil {
		return nil, store.NewStoreError("notification", "list", "database error", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return out, nil
}

// MarkRead sets read_at only when the notification is still unread and
// returns the stored row either way.
func (s *PostgresNotificationStore) MarkRead(ctx context.Context, id uuid.UUID) (*domain.Notification, error) {
	query := `UPDATE notifications SET read = TRUE, read_at = $2 WHERE id = $1 AND NOT read`
	if _, err := s.db.ExecContext(ctx, query, id, s.timeFunc().UTC()); err != nil {
		return nil, store.NewStoreError("notification", "mark_read", "database error", MapError(err))
	}
	return s.Get(ctx, id)
}

// MarkAllRead marks every unread notification of the recipient.
func (s *PostgresNotificationStore) MarkAllRead(ctx context.Context, recipient string) (int, error) {
	query := `UPDATE notifications SET read = TRUE, read_at = $2 WHERE recipient = $1 AND NOT read`
	result, err := s.db.ExecContext(ctx, query, recipient, s.timeFunc().UTC())
	if err != nil {
		return 0, store.NewStoreError("notification", "mark_all_read", "database error", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Delete removes a notification.
func (s *PostgresNotificationStore) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return store.NewStoreError("notification", "delete", "database error", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrNotificationNotFound)
}

// UnreadCount counts the recipient's unread notifications.
func (s *PostgresNotificationStore) UnreadCount(ctx context.Context, recipient string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient = $1 AND NOT read`, recipient,
	).Scan(&count)
	if err != nil {
		return 0, store.NewStoreError("notification", "count", "database error", MapError(err))
	}
	return count, nil
}

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var (
		n      domain.Notification
		readAt sql.NullTime
	)
	if err := row.Scan(
		&n.ID, &n.JobID, &n.Recipient, &n.Title, &n.Message, &n.Type, &n.Read, &n.CreatedAt, &readAt,
	); err != nil {
		return nil, err
	}
	n.ReadAt = timePtr(readAt)
	return &n, nil
}
