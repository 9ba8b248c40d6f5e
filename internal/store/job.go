package store

import (
	"context"
	"encoding/json"

	"github.com/phrazzld/scry-jobs/internal/domain"
)

// JobMutation applies an in-place change to a job loaded by a store.
// Returning an error aborts the update and nothing is written.
type JobMutation func(job *domain.Job) error

// JobRecords is the persistence contract a job backend implements.
//
// Update must be atomic per job ID: the job is read, passed to fn and
// written back without any other writer interleaving (row lock or
// compare-and-swap). When two updates race, the second one sees the state
// produced by the first.
type JobRecords interface {
	// Insert persists a new job. Returns ErrJobExists if the ID is taken.
	Insert(ctx context.Context, job *domain.Job) error

	// Get returns a snapshot of the job or ErrJobNotFound.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// Update atomically applies fn to the stored job and returns the result.
	Update(ctx context.Context, id string, fn JobMutation) (*domain.Job, error)

	// ListByOwner returns the owner's jobs, newest first.
	ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*domain.Job, error)

	// ListByCorrelation returns jobs attached to an external resource, newest first.
	ListByCorrelation(ctx context.Context, correlationID string, limit, offset int) ([]*domain.Job, error)

	// ListByStatus returns jobs in any of the given statuses, oldest first.
	ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error)
}

// JobStore is the job lifecycle API used by the executor and services.
// Every mutating call returns the job as persisted after the change.
type JobStore interface {
	Create(
		ctx context.Context,
		id, taskType, owner, correlationID string,
		request json.RawMessage,
	) (*domain.Job, error)
	MarkRunning(ctx context.Context, id string) (*domain.Job, error)
	UpdateProgress(ctx context.Context, id string, percent int) (*domain.Job, error)
	Complete(ctx context.Context, id string, result json.RawMessage) (*domain.Job, error)
	Fail(ctx context.Context, id string, message string) (*domain.Job, error)
	Cancel(ctx context.Context, id string) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*domain.Job, error)
	ListByCorrelation(ctx context.Context, correlationID string, limit, offset int) ([]*domain.Job, error)
	ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error)
}
