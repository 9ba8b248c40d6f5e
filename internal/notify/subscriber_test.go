package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/events"
	"github.com/phrazzld/scry-jobs/internal/platform/memory"
	"github.com/phrazzld/scry-jobs/internal/realtime"
	"github.com/phrazzld/scry-jobs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentMessage struct {
	user string
	msg  any
}

type fakePusher struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (p *fakePusher) Send(ctx context.Context, userID string, msg any) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentMessage{user: userID, msg: msg})
	return 1
}

func (p *fakePusher) messages() []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentMessage(nil), p.sent...)
}

// failingStore rejects every Create.
type failingStore struct {
	store.NotificationStore
}

func (failingStore) Create(context.Context, *domain.Notification) error {
	return errors.New("connection refused")
}

func newSubscriber(t *testing.T, notifications store.NotificationStore, pusher Pusher) *Subscriber {
	t.Helper()
	s, err := NewSubscriber(events.NewMemoryBus(1, testLogger()), notifications, pusher, testLogger())
	require.NoError(t, err)
	return s
}

func TestHandleEventSuccess(t *testing.T) {
	notifications := memory.NewNotificationStore()
	pusher := &fakePusher{}
	s := newSubscriber(t, notifications, pusher)

	err := s.HandleEvent(context.Background(), events.JobEvent{
		Event:    events.TaskCompleted,
		JobID:    "job-1",
		TaskType: "suggest",
		Status:   domain.JobStatusSucceeded,
		Owner:    "user-1",
	})
	require.NoError(t, err)

	stored, err := notifications.List(context.Background(), "user-1", false, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	n := stored[0]
	assert.Equal(t, "job-1", n.JobID)
	assert.Equal(t, domain.NotificationTypeSuccess, n.Type)
	assert.Equal(t, "✅ Suggest Hoàn Thành", n.Title)
	assert.False(t, n.Read)

	sent := pusher.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "user-1", sent[0].user)
	msg, ok := sent[0].msg.(Message)
	require.True(t, ok)
	assert.Equal(t, "notification", msg.Type)
	assert.Equal(t, n.ID.String(), msg.ID)
	assert.Equal(t, domain.JobStatusSucceeded, msg.Status)
}

func TestHandleEventFailureUsesEventError(t *testing.T) {
	notifications := memory.NewNotificationStore()
	s := newSubscriber(t, notifications, &fakePusher{})

	require.NoError(t, s.HandleEvent(context.Background(), events.JobEvent{
		JobID:    "job-2",
		TaskType: "clo_check",
		Status:   domain.JobStatusFailed,
		Owner:    "user-1",
		Error:    "Invalid credentials",
	}))

	stored, err := notifications.List(context.Background(), "user-1", true, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, domain.NotificationTypeError, stored[0].Type)
	assert.Equal(t, "❌ Clo Check Thất Bại", stored[0].Title)
	assert.Equal(t, "Invalid credentials", stored[0].Message)
}

func TestHandleEventSkips(t *testing.T) {
	tests := map[string]events.JobEvent{
		"no owner":      {JobID: "j", TaskType: "chat", Status: domain.JobStatusSucceeded},
		"not terminal":  {JobID: "j", TaskType: "chat", Status: domain.JobStatusRunning, Owner: "u"},
		"unknown event": {Event: "SOMETHING_ELSE", JobID: "j", Status: domain.JobStatusSucceeded, Owner: "u"},
	}
	for name, event := range tests {
		t.Run(name, func(t *testing.T) {
			notifications := memory.NewNotificationStore()
			pusher := &fakePusher{}
			s := newSubscriber(t, notifications, pusher)

			require.NoError(t, s.HandleEvent(context.Background(), event))
			count, err := notifications.UnreadCount(context.Background(), "u")
			require.NoError(t, err)
			assert.Zero(t, count)
			assert.Empty(t, pusher.messages())
		})
	}
}

func TestHandleEventStoreFailureStillPushes(t *testing.T) {
	pusher := &fakePusher{}
	s := newSubscriber(t, failingStore{}, pusher)

	err := s.HandleEvent(context.Background(), events.JobEvent{
		JobID: "job-3", TaskType: "summary", Status: domain.JobStatusSucceeded, Owner: "user-1",
	})
	require.Error(t, err)

	sent := pusher.messages()
	require.Len(t, sent, 1)
	msg := sent[0].msg.(Message)
	assert.Empty(t, msg.ID)
	assert.Equal(t, "job-3", msg.JobID)
}

func TestDuplicateEventsCreateDuplicateNotifications(t *testing.T) {
	notifications := memory.NewNotificationStore()
	s := newSubscriber(t, notifications, &fakePusher{})
	event := events.JobEvent{JobID: "job-1", TaskType: "chat", Status: domain.JobStatusSucceeded, Owner: "u"}

	require.NoError(t, s.HandleEvent(context.Background(), event))
	require.NoError(t, s.HandleEvent(context.Background(), event))

	count, err := notifications.UnreadCount(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDescribe(t *testing.T) {
	title, message, kind := Describe(events.JobEvent{TaskType: "diff", Status: domain.JobStatusFailed})
	assert.Equal(t, "❌ Diff Thất Bại", title)
	assert.Equal(t, "Task diff xử lý thất bại", message)
	assert.Equal(t, domain.NotificationTypeError, kind)

	_, _, kind = Describe(events.JobEvent{TaskType: "diff", Status: domain.JobStatusCanceled})
	assert.Equal(t, domain.NotificationTypeInfo, kind)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Suggest", DisplayName("suggest"))
	assert.Equal(t, "Clo Check", DisplayName("clo_check"))
	assert.Equal(t, "Task", DisplayName(""))
}

// TestRunDeliversThroughRegistry covers the whole subscriber path: bus,
// store and live push to a registered channel.
func TestRunDeliversThroughRegistry(t *testing.T) {
	bus := events.NewMemoryBus(10, testLogger())
	notifications := memory.NewNotificationStore()
	registry := realtime.NewRegistry(testLogger())
	ch := &recordingChannel{}
	registry.Register("user-1", ch)

	s, err := NewSubscriber(bus, notifications, registry, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.NoError(t, bus.Publish(ctx, events.JobEvent{
		Event: events.TaskCompleted, JobID: "job-1", TaskType: "suggest",
		Status: domain.JobStatusSucceeded, Owner: "user-1", Timestamp: time.Now(),
	}))

	require.Eventually(t, func() bool { return len(ch.payloads()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	var got map[string]any
	require.NoError(t, json.Unmarshal(ch.payloads()[0], &got))
	assert.Equal(t, "notification", got["type"])
	assert.Equal(t, "job-1", got["jobId"])
	assert.Equal(t, "succeeded", got["status"])
	_, err = uuid.Parse(got["id"].(string))
	assert.NoError(t, err)
}

type recordingChannel struct {
	mu   sync.Mutex
	data [][]byte
}

func (c *recordingChannel) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = append(c.data, payload)
	return nil
}

func (c *recordingChannel) payloads() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.data...)
}

func TestNewSubscriberValidation(t *testing.T) {
	bus := events.NewMemoryBus(1, testLogger())
	notifications := memory.NewNotificationStore()
	_, err := NewSubscriber(nil, notifications, &fakePusher{}, testLogger())
	assert.Error(t, err)
	_, err = NewSubscriber(bus, nil, &fakePusher{}, testLogger())
	assert.Error(t, err)
	_, err = NewSubscriber(bus, notifications, nil, testLogger())
	assert.Error(t, err)
	_, err = NewSubscriber(bus, notifications, &fakePusher{}, nil)
	assert.Error(t, err)
}
