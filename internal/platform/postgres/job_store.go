package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/store"
)

const jobColumns = `id, task_type, owner, correlation_id, status, progress, request, result, error,
	created_at, updated_at, started_at, completed_at`

// PostgresJobStore implements store.JobRecords. Updates lock the job row with
// SELECT ... FOR UPDATE inside a transaction, so concurrent transitions on
// the same job serialize and the loser sees the winner's state.
type PostgresJobStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.JobRecords = (*PostgresJobStore)(nil)

// NewPostgresJobStore creates a new PostgresJobStore.
func NewPostgresJobStore(db *sql.DB, logger *slog.Logger) *PostgresJobStore {
	return &PostgresJobStore{
		db:     db,
		logger: logger.With("component", "job_store"),
	}
}

// Insert persists a new job.
func (s *PostgresJobStore) Insert(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(ctx, query, jobArgs(job)...)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", store.ErrJobExists, job.ID)
		}
		s.logger.Error("failed to insert job", "job_id", job.ID, "error", err)
		return store.NewStoreError("job", "insert", "database error", MapError(err))
	}
	return nil
}

// Get returns the job with the given ID.
func (s *PostgresJobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	return getJob(ctx, s.db, id, false)
}

// Update applies fn to the locked job row and writes the result back in the
// same transaction.
func (s *PostgresJobStore) Update(ctx context.Context, id string, fn store.JobMutation) (*domain.Job, error) {
	var updated *domain.Job
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		job, err := getJob(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}

		query := `
			UPDATE jobs
			SET status = $2, progress = $3, result = $4, error = $5,
				updated_at = $6, started_at = $7, completed_at = $8
			WHERE id = $1
		`
		result, err := tx.ExecContext(ctx, query,
			job.ID,
			job.Status,
			job.Progress,
			nullJSON(job.Result),
			nullString(job.Error),
			job.UpdatedAt,
			job.StartedAt,
			job.CompletedAt,
		)
		if err != nil {
			return store.NewStoreError("job", "update", "database error", MapError(err))
		}
		if err := CheckRowsAffected(result, store.ErrJobNotFound); err != nil {
			return err
		}
		updated = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListByOwner returns the owner's jobs, newest first.
func (s *PostgresJobStore) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return s.queryJobs(ctx, query, owner, limit, offset)
}

// ListByCorrelation returns jobs for an external resource, newest first.
func (s *PostgresJobStore) ListByCorrelation(
	ctx context.Context,
	correlationID string,
	limit, offset int,
) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE correlation_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	return s.queryJobs(ctx, query, correlationID, limit, offset)
}

// ListByStatus returns jobs in any of the given statuses, oldest first.
func (s *PostgresJobStore) ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(st)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY created_at ASC`
	return s.queryJobs(ctx, query, args...)
}

func (s *PostgresJobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("failed to query jobs", "error", err)
		return nil, store.NewStoreError("job", "list", "database error", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("job", "list", "failed to iterate rows", err)
	}
	return jobs, nil
}

func getJob(ctx context.Context, db store.DBTX, id string, forUpdate bool) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	job, err := scanJob(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, id)
		}
		return nil, store.NewStoreError("job", "get", "database error", MapError(err))
	}
	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job                      domain.Job
		owner, correlation, jerr sql.NullString
		request, result          []byte
		startedAt, completedAt   sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&job.TaskType,
		&owner,
		&correlation,
		&job.Status,
		&job.Progress,
		&request,
		&result,
		&jerr,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Owner = owner.String
	job.CorrelationID = correlation.String
	job.Error = jerr.String
	if len(request) > 0 {
		job.Request = json.RawMessage(request)
	}
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	return &job, nil
}

func jobArgs(job *domain.Job) []any {
	return []any{
		job.ID,
		job.TaskType,
		nullString(job.Owner),
		nullString(job.CorrelationID),
		job.Status,
		job.Progress,
		nullJSON(job.Request),
		nullJSON(job.Result),
		nullString(job.Error),
		job.CreatedAt,
		job.UpdatedAt,
		job.StartedAt,
		job.CompletedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nullJSON passes JSON as text so the driver casts it to jsonb.
func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
