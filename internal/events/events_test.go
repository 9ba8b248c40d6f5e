package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewJobEventEncodesWireFormat(t *testing.T) {
	job, err := domain.NewJob("job-1", "suggest", "user-1", "syl-9", nil)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, job.MarkRunning(now))
	require.NoError(t, job.Fail("model unavailable", now))

	event := NewJobEvent(job, now)
	data, err := event.Encode()
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"event": "AI_TASK_COMPLETED",
		"jobId": "job-1",
		"taskType": "suggest",
		"status": "failed",
		"userId": "user-1",
		"correlationId": "syl-9",
		"error": "model unavailable",
		"timestamp": "2026-03-01T12:00:00Z"
	}`, string(data))

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, event, decoded)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Decode([]byte(`{"event":"AI_TASK_COMPLETED"}`))
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestMemoryBusDeliversInOrder(t *testing.T) {
	bus := NewMemoryBus(10, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, bus.Publish(ctx, JobEvent{JobID: id}))
	}

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Consume(ctx, func(ctx context.Context, e JobEvent) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, e.JobID)
			if e.JobID == "b" {
				return errors.New("handler failure")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestMemoryBusClose(t *testing.T) {
	bus := NewMemoryBus(1, testLogger())
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), JobEvent{JobID: "x"}), ErrBusClosed)
	assert.NoError(t, bus.Consume(context.Background(), func(context.Context, JobEvent) error { return nil }))
}

func TestMemoryBusPublishHonoursContext(t *testing.T) {
	bus := NewMemoryBus(1, testLogger())
	require.NoError(t, bus.Publish(context.Background(), JobEvent{JobID: "1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Publish(ctx, JobEvent{JobID: "2"}), context.DeadlineExceeded)
	assert.Equal(t, 1, bus.Len())
}
