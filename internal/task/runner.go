package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/events"
	"github.com/phrazzld/scry-jobs/internal/redact"
	"github.com/phrazzld/scry-jobs/internal/store"
)

// RunnerConfig holds configuration for the job runner.
type RunnerConfig struct {
	// WorkerCount determines how many jobs execute concurrently.
	WorkerCount int

	// QueueSize is the buffer size of the in-memory job queue.
	QueueSize int

	// RequeueInterval is how often queued jobs that missed the in-memory
	// queue are picked up from the store. Zero disables the sweep.
	RequeueInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:     2,
		QueueSize:       100,
		RequeueInterval: time.Minute,
	}
}

// Runner manages background job execution.
type Runner struct {
	jobs      store.JobStore
	handlers  *Registry
	publisher events.Publisher
	queue     *jobQueue
	config    RunnerConfig
	logger    *slog.Logger
	timeFunc  func() time.Time

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a Runner. Call Start to begin processing.
func NewRunner(
	jobs store.JobStore,
	handlers *Registry,
	publisher events.Publisher,
	config RunnerConfig,
	logger *slog.Logger,
) (*Runner, error) {
	if jobs == nil {
		return nil, errors.New("job store cannot be nil")
	}
	if handlers == nil {
		return nil, errors.New("handler registry cannot be nil")
	}
	if publisher == nil {
		return nil, errors.New("event publisher cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultRunnerConfig().QueueSize
	}

	logger = logger.With("component", "job_runner")
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		jobs:      jobs,
		handlers:  handlers,
		publisher: publisher,
		queue:     newJobQueue(config.QueueSize, logger),
		config:    config,
		logger:    logger,
		timeFunc:  time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Submission describes a job to create. ID is optional; when set it must
// be unique or Submit fails with store.ErrJobExists.
type Submission struct {
	ID            string
	TaskType      string
	Owner         string
	CorrelationID string
	Payload       json.RawMessage
}

// Submit validates the payload, persists a queued job and enqueues it.
// A full queue is not an error: the job stays queued in the store and the
// requeue sweep picks it up.
func (r *Runner) Submit(ctx context.Context, sub Submission) (*domain.Job, error) {
	h, ok := r.handlers.Lookup(sub.TaskType)
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", domain.ErrValidation, ErrUnknownTaskType, sub.TaskType)
	}
	if v, ok := h.(PayloadValidator); ok {
		if err := v.ValidatePayload(sub.Payload); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
	}

	job, err := r.jobs.Create(ctx, sub.ID, sub.TaskType, sub.Owner, sub.CorrelationID, sub.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if _, err := r.queue.Enqueue(job.ID); err != nil {
		r.logger.WarnContext(ctx, "job left queued for requeue sweep",
			"job_id", job.ID,
			"error", err)
	}
	return job, nil
}

// Start recovers unfinished jobs and starts the workers and requeue sweep.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("runner already started")
	}

	if err := r.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	if r.config.RequeueInterval > 0 {
		r.wg.Add(1)
		go r.requeueLoop()
	}
	r.started = true
	return nil
}

// Stop cancels in-flight handlers and waits for the workers to exit.
// Interrupted jobs stay running in the store and are recovered when the
// next process starts. A stopped Runner cannot be started again.
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Recover enqueues every job left queued or running by a previous process.
func (r *Runner) Recover(ctx context.Context) error {
	jobs, err := r.jobs.ListByStatus(ctx, domain.JobStatusQueued, domain.JobStatusRunning)
	if err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "recovering unfinished jobs", "count", len(jobs))
	for _, job := range jobs {
		if _, err := r.queue.Enqueue(job.ID); err != nil {
			r.logger.WarnContext(ctx, "failed to requeue job, queue is full",
				"job_id", job.ID,
				"status", job.Status)
		}
	}
	return nil
}

// QueueLen returns the number of jobs waiting for a worker.
func (r *Runner) QueueLen() int {
	return r.queue.Len()
}

func (r *Runner) worker(id int) {
	defer r.wg.Done()
	r.logger.Debug("starting worker", "worker_id", id)

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Debug("stopping worker", "worker_id", id)
			return
		case jobID := <-r.queue.C():
			r.process(r.ctx, jobID, id)
			r.queue.Done(jobID)
		}
	}
}

func (r *Runner) requeueLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.RequeueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.requeueQueued(r.ctx)
		}
	}
}

func (r *Runner) requeueQueued(ctx context.Context) {
	jobs, err := r.jobs.ListByStatus(ctx, domain.JobStatusQueued)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to list queued jobs", "error", err)
		return
	}
	added := 0
	for _, job := range jobs {
		ok, err := r.queue.Enqueue(job.ID)
		if err != nil {
			r.logger.WarnContext(ctx, "requeue sweep stopped, queue is full", "pending", len(jobs)-added)
			return
		}
		if ok {
			added++
		}
	}
	if added > 0 {
		r.logger.InfoContext(ctx, "requeued jobs", "count", added)
	}
}

// process drives one job from queued to a terminal state.
func (r *Runner) process(ctx context.Context, jobID string, workerID int) {
	logger := r.logger.With("job_id", jobID, "worker_id", workerID)

	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		logger.ErrorContext(ctx, "failed to load job", "error", err)
		return
	}
	logger = logger.With("task_type", job.TaskType)
	if job.Status.IsTerminal() {
		logger.InfoContext(ctx, "job already finished, skipping", "status", job.Status)
		return
	}

	job, err = r.jobs.MarkRunning(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.InfoContext(ctx, "job finished before it started, skipping")
			return
		}
		logger.ErrorContext(ctx, "failed to mark job running", "error", err)
		return
	}
	logger.InfoContext(ctx, "processing job")

	handler, ok := r.handlers.Lookup(job.TaskType)
	if !ok {
		r.fail(ctx, logger, jobID, fmt.Errorf("%w %q", ErrUnknownTaskType, job.TaskType))
		return
	}

	result, err := handler.Handle(ctx, job, &reporter{jobs: r.jobs, jobID: jobID})

	// terminal writes must land even if shutdown starts right now
	finishCtx := context.WithoutCancel(ctx)
	switch {
	case errors.Is(err, ErrJobCanceled):
		logger.InfoContext(ctx, "job canceled during execution")
	case err != nil && ctx.Err() != nil:
		logger.WarnContext(ctx, "job interrupted by shutdown, will be recovered", "error", err)
	case err != nil:
		r.fail(finishCtx, logger, jobID, err)
	default:
		r.complete(finishCtx, logger, jobID, result)
	}
}

func (r *Runner) complete(ctx context.Context, logger *slog.Logger, jobID string, result json.RawMessage) {
	job, err := r.jobs.Complete(ctx, jobID, result)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.InfoContext(ctx, "job canceled before completion was recorded")
			return
		}
		logger.ErrorContext(ctx, "failed to mark job succeeded", "error", err)
		return
	}
	logger.InfoContext(ctx, "job completed successfully")
	r.publish(ctx, logger, job)
}

func (r *Runner) fail(ctx context.Context, logger *slog.Logger, jobID string, cause error) {
	message := redact.Error(cause)
	logger.ErrorContext(ctx, "job execution failed", "error", message)

	job, err := r.jobs.Fail(ctx, jobID, message)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.InfoContext(ctx, "job canceled before failure was recorded")
			return
		}
		logger.ErrorContext(ctx, "failed to mark job failed", "error", err)
		return
	}
	r.publish(ctx, logger, job)
}

// publish sends the terminal event. Failures are logged only: the stored
// job state is authoritative.
func (r *Runner) publish(ctx context.Context, logger *slog.Logger, job *domain.Job) {
	if err := r.publisher.Publish(ctx, events.NewJobEvent(job, r.timeFunc())); err != nil {
		logger.ErrorContext(ctx, "failed to publish job event",
			"status", job.Status,
			"error", redact.Error(err))
	}
}

// reporter implements Progress against the job store.
type reporter struct {
	jobs  store.JobStore
	jobID string
}

func (p *reporter) Report(ctx context.Context, percent int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.jobs.UpdateProgress(ctx, p.jobID, percent)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrInvalidTransition) {
		job, getErr := p.jobs.Get(ctx, p.jobID)
		if getErr == nil && job.Status == domain.JobStatusCanceled {
			return ErrJobCanceled
		}
	}
	return fmt.Errorf("failed to record progress: %w", err)
}
