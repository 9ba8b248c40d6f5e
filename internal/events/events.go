package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/scry-jobs/internal/domain"
)

// TaskCompleted is the event name carried by every JobEvent.
const TaskCompleted = "AI_TASK_COMPLETED"

// ErrMalformedEvent is returned when a payload cannot be decoded into a JobEvent.
var ErrMalformedEvent = errors.New("malformed job event")

// JobEvent is published once per terminal job transition.
type JobEvent struct {
	Event         string           `json:"event"`
	JobID         string           `json:"jobId"`
	TaskType      string           `json:"taskType"`
	Status        domain.JobStatus `json:"status"`
	Owner         string           `json:"userId,omitempty"`
	CorrelationID string           `json:"correlationId,omitempty"`
	Error         string           `json:"error,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// NewJobEvent builds the event for a job that has reached a terminal state.
func NewJobEvent(job *domain.Job, now time.Time) JobEvent {
	return JobEvent{
		Event:         TaskCompleted,
		JobID:         job.ID,
		TaskType:      job.TaskType,
		Status:        job.Status,
		Owner:         job.Owner,
		CorrelationID: job.CorrelationID,
		Error:         job.Error,
		Timestamp:     now.UTC(),
	}
}

// Encode serializes the event for the wire.
func (e JobEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a wire payload.
func Decode(data []byte) (JobEvent, error) {
	var e JobEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return JobEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if e.JobID == "" {
		return JobEvent{}, fmt.Errorf("%w: missing jobId", ErrMalformedEvent)
	}
	return e, nil
}

// Handler processes one delivered event.
type Handler func(ctx context.Context, event JobEvent) error

// Publisher sends events to the topic.
type Publisher interface {
	// Publish delivers the event to the topic, returning an error if the
	// topic did not accept it.
	Publish(ctx context.Context, event JobEvent) error
	Close() error
}

// Source delivers events from the topic to a handler.
type Source interface {
	// Consume blocks, calling handler for each event until ctx is done.
	// A handler error does not stop consumption.
	Consume(ctx context.Context, handler Handler) error
	Close() error
}
