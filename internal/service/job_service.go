package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/events"
	"github.com/phrazzld/scry-jobs/internal/redact"
	"github.com/phrazzld/scry-jobs/internal/store"
	"github.com/phrazzld/scry-jobs/internal/task"
)

// Page limits for job listings.
const (
	DefaultJobLimit = 20
	MaxJobLimit     = 100
)

// JobSubmitter creates and enqueues jobs.
type JobSubmitter interface {
	Submit(ctx context.Context, sub task.Submission) (*domain.Job, error)
}

// SubmitRequest is a caller's request to start a job.
type SubmitRequest struct {
	ID            string
	TaskType      string
	CorrelationID string
	Payload       json.RawMessage
}

// JobService exposes job operations to a single authenticated caller.
type JobService interface {
	// Submit creates a queued job owned by userID.
	Submit(ctx context.Context, userID string, req SubmitRequest) (*domain.Job, error)

	// Get returns a job the caller may see.
	Get(ctx context.Context, userID, jobID string) (*domain.Job, error)

	// Cancel cancels a queued or running job and publishes the canceled event.
	Cancel(ctx context.Context, userID, jobID string) (*domain.Job, error)

	// ListByOwner returns the caller's jobs, newest first.
	ListByOwner(ctx context.Context, userID string, limit, offset int) ([]*domain.Job, error)

	// ListByCorrelation returns the caller's jobs attached to correlationID.
	ListByCorrelation(ctx context.Context, userID, correlationID string, limit, offset int) ([]*domain.Job, error)
}

type jobService struct {
	jobs      store.JobStore
	submitter JobSubmitter
	publisher events.Publisher
	logger    *slog.Logger
	timeFunc  func() time.Time
}

var _ JobService = (*jobService)(nil)

// NewJobService creates a JobService.
func NewJobService(
	jobs store.JobStore,
	submitter JobSubmitter,
	publisher events.Publisher,
	logger *slog.Logger,
) (JobService, error) {
	if jobs == nil {
		return nil, errors.New("job store cannot be nil")
	}
	if submitter == nil {
		return nil, errors.New("job submitter cannot be nil")
	}
	if publisher == nil {
		return nil, errors.New("event publisher cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &jobService{
		jobs:      jobs,
		submitter: submitter,
		publisher: publisher,
		logger:    logger.With("component", "job_service"),
		timeFunc:  time.Now,
	}, nil
}

func (s *jobService) Submit(ctx context.Context, userID string, req SubmitRequest) (*domain.Job, error) {
	job, err := s.submitter.Submit(ctx, task.Submission{
		ID:            req.ID,
		TaskType:      req.TaskType,
		Owner:         userID,
		CorrelationID: req.CorrelationID,
		Payload:       req.Payload,
	})
	if err != nil {
		return nil, wrapError("submit_job", "failed to submit job", err)
	}
	s.logger.InfoContext(ctx, "job submitted",
		"job_id", job.ID,
		"task_type", job.TaskType,
		"user_id", userID)
	return job, nil
}

func (s *jobService) Get(ctx context.Context, userID, jobID string) (*domain.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, wrapError("get_job", "failed to load job", err)
	}
	if !canAccess(job, userID) {
		return nil, ErrForbidden
	}
	return job, nil
}

func (s *jobService) Cancel(ctx context.Context, userID, jobID string) (*domain.Job, error) {
	if _, err := s.Get(ctx, userID, jobID); err != nil {
		return nil, err
	}

	job, err := s.jobs.Cancel(ctx, jobID)
	if err != nil {
		return nil, wrapError("cancel_job", "failed to cancel job", err)
	}
	s.logger.InfoContext(ctx, "job canceled", "job_id", jobID, "user_id", userID)

	if err := s.publisher.Publish(ctx, events.NewJobEvent(job, s.timeFunc())); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish job event",
			"job_id", jobID,
			"status", job.Status,
			"error", redact.Error(err))
	}
	return job, nil
}

func (s *jobService) ListByOwner(ctx context.Context, userID string, limit, offset int) ([]*domain.Job, error) {
	limit = store.NormalizeLimit(limit, DefaultJobLimit, MaxJobLimit)
	jobs, err := s.jobs.ListByOwner(ctx, userID, limit, max(offset, 0))
	if err != nil {
		return nil, wrapError("list_jobs", "failed to list jobs", err)
	}
	return jobs, nil
}

func (s *jobService) ListByCorrelation(
	ctx context.Context,
	userID, correlationID string,
	limit, offset int,
) ([]*domain.Job, error) {
	limit = store.NormalizeLimit(limit, DefaultJobLimit, MaxJobLimit)
	jobs, err := s.jobs.ListByCorrelation(ctx, correlationID, limit, max(offset, 0))
	if err != nil {
		return nil, wrapError("list_jobs", "failed to list jobs", err)
	}
	visible := jobs[:0]
	for _, job := range jobs {
		if canAccess(job, userID) {
			visible = append(visible, job)
		}
	}
	return visible, nil
}

// canAccess reports whether userID may see job. Jobs without an owner are
// visible to every authenticated caller.
func canAccess(job *domain.Job, userID string) bool {
	return job.Owner == "" || job.Owner == userID
}
