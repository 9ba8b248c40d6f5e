package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/events"
	"github.com/phrazzld/scry-jobs/internal/generation"
	"github.com/phrazzld/scry-jobs/internal/notify"
	"github.com/phrazzld/scry-jobs/internal/platform/memory"
	"github.com/phrazzld/scry-jobs/internal/realtime"
	"github.com/phrazzld/scry-jobs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.JobEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []events.JobEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.JobEvent(nil), p.events...)
}

type fixture struct {
	jobs      *store.JobLifecycle
	handlers  *Registry
	publisher events.Publisher
	runner    *Runner
}

func newFixture(t *testing.T, publisher events.Publisher, config RunnerConfig) *fixture {
	t.Helper()
	jobs := store.NewJobLifecycle(memory.NewJobStore())
	handlers := NewRegistry()
	runner, err := NewRunner(jobs, handlers, publisher, config, testLogger())
	require.NoError(t, err)
	t.Cleanup(runner.Stop)
	return &fixture{jobs: jobs, handlers: handlers, publisher: publisher, runner: runner}
}

func (f *fixture) waitStatus(t *testing.T, id string, want domain.JobStatus) *domain.Job {
	t.Helper()
	var job *domain.Job
	require.Eventually(t, func() bool {
		j, err := f.jobs.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == want
	}, waitFor, 5*time.Millisecond, "job %s never reached %s", id, want)
	return job
}

func TestRunnerScenarioSuccessNotifiesOwner(t *testing.T) {
	ctx := context.Background()
	bus := events.NewMemoryBus(10, testLogger())
	f := newFixture(t, bus, RunnerConfig{WorkerCount: 1, QueueSize: 10})

	observed := make(chan domain.JobStatus, 1)
	f.handlers.Register("suggest", HandlerFunc(func(ctx context.Context, job *domain.Job, p Progress) (json.RawMessage, error) {
		observed <- job.Status
		if err := p.Report(ctx, 50); err != nil {
			return nil, err
		}
		return json.RawMessage(`{"text":"ok"}`), nil
	}))

	notifications := memory.NewNotificationStore()
	registry := realtime.NewRegistry(testLogger())
	channel := &captureChannel{}
	registry.Register("user-1", channel)
	sub, err := notify.NewSubscriber(bus, notifications, registry, testLogger())
	require.NoError(t, err)
	subCtx, stopSub := context.WithCancel(ctx)
	defer stopSub()
	go func() { _ = sub.Run(subCtx) }()

	job, err := f.runner.Submit(ctx, Submission{ID: "job-1", TaskType: "suggest", Owner: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, 0, job.Progress)

	require.NoError(t, f.runner.Start(ctx))

	job = f.waitStatus(t, "job-1", domain.JobStatusSucceeded)
	assert.Equal(t, domain.JobStatusRunning, <-observed)
	assert.Equal(t, 100, job.Progress)
	assert.JSONEq(t, `{"text":"ok"}`, string(job.Result))
	assert.Empty(t, job.Error)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)

	require.Eventually(t, func() bool { return len(channel.payloads()) == 1 }, waitFor, 5*time.Millisecond)
	var pushed map[string]any
	require.NoError(t, json.Unmarshal(channel.payloads()[0], &pushed))
	assert.Equal(t, "notification", pushed["type"])
	assert.Equal(t, "job-1", pushed["jobId"])
	assert.Equal(t, "succeeded", pushed["status"])

	stored, err := notifications.List(ctx, "user-1", false, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.NotificationTypeSuccess, stored[0].Type)
	assert.Equal(t, "job-1", stored[0].JobID)
}

func TestRunnerScenarioAuthFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	bus := events.NewMemoryBus(10, testLogger())
	f := newFixture(t, bus, RunnerConfig{WorkerCount: 1, QueueSize: 10})

	var calls int
	var mu sync.Mutex
	transport := generation.CompleterFunc(func(ctx context.Context, req generation.Request) (*generation.Response, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil, fmt.Errorf("%w: Invalid credentials", generation.ErrAuth)
	})
	retrier := generation.NewRetrier(2, time.Millisecond, time.Millisecond, testLogger())
	client, err := generation.NewClient(transport, generation.NewTokenBudget(14000, time.Minute), retrier,
		generation.Defaults{Temperature: 0.7, MaxTokens: 2000}, testLogger())
	require.NoError(t, err)
	RegisterAnalysisHandlers(f.handlers, client)

	notifications := memory.NewNotificationStore()
	sub, err := notify.NewSubscriber(bus, notifications, realtime.NewRegistry(testLogger()), testLogger())
	require.NoError(t, err)
	subCtx, stopSub := context.WithCancel(ctx)
	defer stopSub()
	go func() { _ = sub.Run(subCtx) }()

	require.NoError(t, f.runner.Start(ctx))
	_, err = f.runner.Submit(ctx, Submission{
		ID:       "job-2",
		TaskType: TypeSuggest,
		Owner:    "user-1",
		Payload:  json.RawMessage(`{"content":"Week 1: intro"}`),
	})
	require.NoError(t, err)

	job := f.waitStatus(t, "job-2", domain.JobStatusFailed)
	assert.Contains(t, job.Error, "Invalid credentials")
	assert.Nil(t, job.Result)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()

	require.Eventually(t, func() bool {
		n, err := notifications.UnreadCount(ctx, "user-1")
		return err == nil && n == 1
	}, waitFor, 5*time.Millisecond)
	stored, err := notifications.List(ctx, "user-1", false, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.NotificationTypeError, stored[0].Type)
}

func TestRunnerPublishesExactlyOneTerminalEvent(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, pub, RunnerConfig{WorkerCount: 2, QueueSize: 10})
	f.handlers.Register("ok", HandlerFunc(func(context.Context, *domain.Job, Progress) (json.RawMessage, error) {
		return json.RawMessage(`1`), nil
	}))
	f.handlers.Register("bad", HandlerFunc(func(context.Context, *domain.Job, Progress) (json.RawMessage, error) {
		return nil, errors.New("dial tcp db.internal.example.com:5432: connection refused")
	}))
	require.NoError(t, f.runner.Start(context.Background()))

	okJob, err := f.runner.Submit(context.Background(), Submission{TaskType: "ok", Owner: "u", CorrelationID: "syl-1"})
	require.NoError(t, err)
	badJob, err := f.runner.Submit(context.Background(), Submission{TaskType: "bad", Owner: "u"})
	require.NoError(t, err)

	f.waitStatus(t, okJob.ID, domain.JobStatusSucceeded)
	failed := f.waitStatus(t, badJob.ID, domain.JobStatusFailed)
	assert.NotContains(t, failed.Error, "db.internal.example.com")

	require.Eventually(t, func() bool { return len(pub.published()) == 2 }, waitFor, 5*time.Millisecond)
	byJob := map[string]events.JobEvent{}
	for _, e := range pub.published() {
		byJob[e.JobID] = e
	}
	assert.Equal(t, domain.JobStatusSucceeded, byJob[okJob.ID].Status)
	assert.Equal(t, "syl-1", byJob[okJob.ID].CorrelationID)
	assert.Equal(t, events.TaskCompleted, byJob[okJob.ID].Event)
	assert.Equal(t, domain.JobStatusFailed, byJob[badJob.ID].Status)
	assert.Equal(t, failed.Error, byJob[badJob.ID].Error)
}

func TestRunnerPublishFailureDoesNotAffectJob(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	f := newFixture(t, pub, RunnerConfig{WorkerCount: 1, QueueSize: 10})
	f.handlers.Register("ok", HandlerFunc(func(context.Context, *domain.Job, Progress) (json.RawMessage, error) {
		return json.RawMessage(`{"done":true}`), nil
	}))
	require.NoError(t, f.runner.Start(context.Background()))

	job, err := f.runner.Submit(context.Background(), Submission{TaskType: "ok", Owner: "u"})
	require.NoError(t, err)

	f.waitStatus(t, job.ID, domain.JobStatusSucceeded)
	require.Eventually(t, func() bool { return len(pub.published()) == 1 }, waitFor, 5*time.Millisecond)

	stored, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, stored.Status)
}

func TestRunnerCooperativeCancel(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, pub, RunnerConfig{WorkerCount: 1, QueueSize: 10})

	started := make(chan struct{})
	release := make(chan struct{})
	reported := make(chan error, 1)
	f.handlers.Register("slow", HandlerFunc(func(ctx context.Context, job *domain.Job, p Progress) (json.RawMessage, error) {
		close(started)
		<-release
		err := p.Report(ctx, 50)
		reported <- err
		if err != nil {
			return nil, err
		}
		return json.RawMessage(`{}`), nil
	}))
	require.NoError(t, f.runner.Start(context.Background()))

	job, err := f.runner.Submit(context.Background(), Submission{TaskType: "slow", Owner: "u"})
	require.NoError(t, err)
	<-started

	_, err = f.jobs.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	close(release)

	assert.ErrorIs(t, <-reported, ErrJobCanceled)
	stored := f.waitStatus(t, job.ID, domain.JobStatusCanceled)
	assert.Nil(t, stored.Result)
	assert.Never(t, func() bool { return len(pub.published()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestRunnerSkipsJobCanceledWhileQueued(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, pub, RunnerConfig{WorkerCount: 1, QueueSize: 10})
	var ran bool
	f.handlers.Register("x", HandlerFunc(func(context.Context, *domain.Job, Progress) (json.RawMessage, error) {
		ran = true
		return nil, nil
	}))

	job, err := f.runner.Submit(context.Background(), Submission{TaskType: "x", Owner: "u"})
	require.NoError(t, err)
	_, err = f.jobs.Cancel(context.Background(), job.ID)
	require.NoError(t, err)

	require.NoError(t, f.runner.Start(context.Background()))
	require.Eventually(t, func() bool { return f.runner.QueueLen() == 0 }, waitFor, 5*time.Millisecond)
	f.runner.Stop()

	assert.False(t, ran)
	assert.Empty(t, pub.published())
}

func TestRunnerRecoversUnfinishedJobs(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, pub, RunnerConfig{WorkerCount: 2, QueueSize: 10})
	f.handlers.Register("x", HandlerFunc(func(context.Context, *domain.Job, Progress) (json.RawMessage, error) {
		return json.RawMessage(`"done"`), nil
	}))
	ctx := context.Background()

	_, err := f.jobs.Create(ctx, "queued-1", "x", "u", "", nil)
	require.NoError(t, err)
	_, err = f.jobs.Create(ctx, "running-1", "x", "u", "", nil)
	require.NoError(t, err)
	_, err = f.jobs.MarkRunning(ctx, "running-1")
	require.NoError(t, err)
	_, err = f.jobs.Create(ctx, "done-1", "x", "u", "", nil)
	require.NoError(t, err)
	_, err = f.jobs.Fail(ctx, "done-1", "boom")
	require.NoError(t, err)

	require.NoError(t, f.runner.Start(ctx))

	f.waitStatus(t, "queued-1", domain.JobStatusSucceeded)
	f.waitStatus(t, "running-1", domain.JobStatusSucceeded)
	done, err := f.jobs.Get(ctx, "done-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, done.Status)
}

func TestRunnerFullQueueLeavesJobForSweep(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, pub, RunnerConfig{WorkerCount: 1, QueueSize: 1, RequeueInterval: 10 * time.Millisecond})
	f.handlers.Register("x", HandlerFunc(func(context.Context, *domain.Job, Progress) (json.RawMessage, error) {
		return nil, nil
	}))
	ctx := context.Background()

	first, err := f.runner.Submit(ctx, Submission{TaskType: "x", Owner: "u"})
	require.NoError(t, err)
	second, err := f.runner.Submit(ctx, Submission{TaskType: "x", Owner: "u"})
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, second.Status)

	require.NoError(t, f.runner.Start(ctx))

	f.waitStatus(t, first.ID, domain.JobStatusSucceeded)
	f.waitStatus(t, second.ID, domain.JobStatusSucceeded)
}

func TestRunnerSubmitValidation(t *testing.T) {
	f := newFixture(t, &recordingPublisher{}, DefaultRunnerConfig())
	RegisterAnalysisHandlers(f.handlers, generation.CompleterFunc(
		func(context.Context, generation.Request) (*generation.Response, error) { return nil, nil }))
	ctx := context.Background()

	_, err := f.runner.Submit(ctx, Submission{TaskType: "nope", Owner: "u"})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, ErrUnknownTaskType)

	_, err = f.runner.Submit(ctx, Submission{TaskType: TypeSuggest, Owner: "u", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.runner.Submit(ctx, Submission{ID: "dup", TaskType: TypeSummary, Owner: "u",
		Payload: json.RawMessage(`{"content":"x"}`)})
	require.NoError(t, err)
	_, err = f.runner.Submit(ctx, Submission{ID: "dup", TaskType: TypeSummary, Owner: "u",
		Payload: json.RawMessage(`{"content":"x"}`)})
	assert.ErrorIs(t, err, domain.ErrDuplicateJob)
}

func TestRunnerStartTwice(t *testing.T) {
	f := newFixture(t, &recordingPublisher{}, DefaultRunnerConfig())
	require.NoError(t, f.runner.Start(context.Background()))
	assert.Error(t, f.runner.Start(context.Background()))
}

func TestRunnerCannotRestartAfterStop(t *testing.T) {
	f := newFixture(t, &recordingPublisher{}, DefaultRunnerConfig())
	require.NoError(t, f.runner.Start(context.Background()))
	f.runner.Stop()
	assert.Error(t, f.runner.Start(context.Background()))
}

func TestNewRunnerValidation(t *testing.T) {
	jobs := store.NewJobLifecycle(memory.NewJobStore())
	_, err := NewRunner(nil, NewRegistry(), &recordingPublisher{}, DefaultRunnerConfig(), testLogger())
	assert.Error(t, err)
	_, err = NewRunner(jobs, nil, &recordingPublisher{}, DefaultRunnerConfig(), testLogger())
	assert.Error(t, err)
	_, err = NewRunner(jobs, NewRegistry(), nil, DefaultRunnerConfig(), testLogger())
	assert.Error(t, err)
	_, err = NewRunner(jobs, NewRegistry(), &recordingPublisher{}, DefaultRunnerConfig(), nil)
	assert.Error(t, err)
}

type captureChannel struct {
	mu   sync.Mutex
	data [][]byte
}

func (c *captureChannel) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, payload)
	return nil
}

func (c *captureChannel) payloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.data...)
}
