package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/phrazzld/scry-jobs/internal/domain"
)

// JobLifecycle implements JobStore on top of any JobRecords backend by
// running the domain transitions inside the backend's atomic Update.
type JobLifecycle struct {
	JobRecords
	timeFunc func() time.Time
}

var _ JobStore = (*JobLifecycle)(nil)

// NewJobLifecycle wraps a backend with the job state machine.
func NewJobLifecycle(records JobRecords) *JobLifecycle {
	return &JobLifecycle{
		JobRecords: records,
		timeFunc:   time.Now,
	}
}

// WithTimeFunc replaces the clock, for tests.
func (l *JobLifecycle) WithTimeFunc(fn func() time.Time) *JobLifecycle {
	l.timeFunc = fn
	return l
}

// Create inserts a queued job with progress 0.
func (l *JobLifecycle) Create(
	ctx context.Context,
	id, taskType, owner, correlationID string,
	request json.RawMessage,
) (*domain.Job, error) {
	job, err := domain.NewJob(id, taskType, owner, correlationID, request)
	if err != nil {
		return nil, err
	}
	now := l.timeFunc().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if err := l.Insert(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// MarkRunning moves the job to running, setting started_at on first call.
func (l *JobLifecycle) MarkRunning(ctx context.Context, id string) (*domain.Job, error) {
	return l.Update(ctx, id, func(job *domain.Job) error {
		return job.MarkRunning(l.timeFunc())
	})
}

// UpdateProgress records progress for a running job. Lower values are ignored.
func (l *JobLifecycle) UpdateProgress(ctx context.Context, id string, percent int) (*domain.Job, error) {
	return l.Update(ctx, id, func(job *domain.Job) error {
		_, err := job.UpdateProgress(percent, l.timeFunc())
		return err
	})
}

// Complete marks the job succeeded.
func (l *JobLifecycle) Complete(ctx context.Context, id string, result json.RawMessage) (*domain.Job, error) {
	return l.Update(ctx, id, func(job *domain.Job) error {
		return job.Complete(result, l.timeFunc())
	})
}

// Fail marks the job failed.
func (l *JobLifecycle) Fail(ctx context.Context, id string, message string) (*domain.Job, error) {
	return l.Update(ctx, id, func(job *domain.Job) error {
		return job.Fail(message, l.timeFunc())
	})
}

// Cancel marks a queued or running job canceled.
func (l *JobLifecycle) Cancel(ctx context.Context, id string) (*domain.Job, error) {
	return l.Update(ctx, id, func(job *domain.Job) error {
		return job.Cancel(l.timeFunc())
	})
}
