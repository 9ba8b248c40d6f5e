package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Possible job status values
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// IsValid reports whether s is a known status.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// Job is one unit of asynchronous analysis work tracked from submission
// to a terminal outcome.
//
// The mutating methods below are pure: they validate the transition against
// the current state and update the struct in place. Stores are responsible
// for applying them atomically per job ID.
type Job struct {
	ID            string          `json:"id"`
	TaskType      string          `json:"task_type"`
	Owner         string          `json:"owner,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Status        JobStatus       `json:"status"`
	Progress      int             `json:"progress"`
	Request       json.RawMessage `json:"request,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

// NewJob creates a queued job. An empty id is replaced by a random UUID.
func NewJob(id, taskType, owner, correlationID string, request json.RawMessage) (*Job, error) {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	job := &Job{
		ID:            id,
		TaskType:      taskType,
		Owner:         owner,
		CorrelationID: correlationID,
		Status:        JobStatusQueued,
		Request:       request,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

// Validate checks the structural invariants of the job.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: job id cannot be empty", ErrValidation)
	}
	if j.TaskType == "" {
		return fmt.Errorf("%w: task type cannot be empty", ErrValidation)
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, j.Status)
	}
	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrValidation, j.Progress)
	}
	if len(j.Request) > 0 && !json.Valid(j.Request) {
		return fmt.Errorf("%w: request is not valid JSON", ErrValidation)
	}
	return nil
}

// Clone returns a deep copy so callers can hand out snapshots.
func (j *Job) Clone() *Job {
	c := *j
	if j.Request != nil {
		c.Request = append(json.RawMessage(nil), j.Request...)
	}
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (j *Job) transitionError(to JobStatus) error {
	return &TransitionError{JobID: j.ID, From: j.Status, To: to}
}

// MarkRunning moves a queued job to running. It is a no-op for a job that
// is already running and fails for a terminal job.
func (j *Job) MarkRunning(now time.Time) error {
	switch j.Status {
	case JobStatusRunning:
		return nil
	case JobStatusQueued:
		j.Status = JobStatusRunning
		if j.StartedAt == nil {
			t := now.UTC()
			j.StartedAt = &t
		}
		j.UpdatedAt = now.UTC()
		return nil
	default:
		return j.transitionError(JobStatusRunning)
	}
}

// UpdateProgress records a new progress percentage for a running job.
// Values are clamped to [0,100]; a value lower than the stored one is
// ignored. The returned bool reports whether anything changed.
func (j *Job) UpdateProgress(percent int, now time.Time) (bool, error) {
	if j.Status != JobStatusRunning {
		return false, j.transitionError(JobStatusRunning)
	}
	percent = ClampProgress(percent)
	if percent <= j.Progress {
		return false, nil
	}
	j.Progress = percent
	j.UpdatedAt = now.UTC()
	return true, nil
}

// Complete marks the job succeeded with the given result.
func (j *Job) Complete(result json.RawMessage, now time.Time) error {
	if j.Status.IsTerminal() {
		return j.transitionError(JobStatusSucceeded)
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	j.Status = JobStatusSucceeded
	j.Progress = 100
	j.Result = result
	j.Error = ""
	j.finish(now)
	return nil
}

// Fail marks the job failed with the given message.
func (j *Job) Fail(message string, now time.Time) error {
	if j.Status.IsTerminal() {
		return j.transitionError(JobStatusFailed)
	}
	if message == "" {
		message = "unknown error"
	}
	j.Status = JobStatusFailed
	j.Error = message
	j.Result = nil
	j.finish(now)
	return nil
}

// Cancel marks a queued or running job canceled.
func (j *Job) Cancel(now time.Time) error {
	if j.Status.IsTerminal() {
		return j.transitionError(JobStatusCanceled)
	}
	j.Status = JobStatusCanceled
	j.Result = nil
	j.Error = ""
	j.finish(now)
	return nil
}

func (j *Job) finish(now time.Time) {
	t := now.UTC()
	// keep started_at <= completed_at even with a skewed clock
	if j.StartedAt != nil && t.Before(*j.StartedAt) {
		t = *j.StartedAt
	}
	j.CompletedAt = &t
	j.UpdatedAt = t
}

// ClampProgress bounds a percentage to [0,100].
func ClampProgress(percent int) int {
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
