package task

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/phrazzld/scry-jobs/internal/domain"
)

var (
	// ErrJobCanceled is returned by a Progress checkpoint once the job has
	// been canceled. Handlers must return it unchanged.
	ErrJobCanceled = errors.New("job canceled")

	// ErrUnknownTaskType is returned when no handler is registered for a type.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrQueueFull is returned by Enqueue when the buffer is at capacity.
	ErrQueueFull = errors.New("job queue is full")
)

// Progress lets a handler report progress and observe cancellation.
type Progress interface {
	// Report records percent (clamped to 0..100, never decreasing) after
	// checking for cancellation. Call it before every external call.
	Report(ctx context.Context, percent int) error
}

// Handler runs the work for one task type and returns the job result.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job, progress Progress) (json.RawMessage, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *domain.Job, progress Progress) (json.RawMessage, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job, progress Progress) (json.RawMessage, error) {
	return f(ctx, job, progress)
}

// PayloadValidator is implemented by handlers that can reject a request
// payload at submission time.
type PayloadValidator interface {
	ValidatePayload(payload json.RawMessage) error
}

// Registry maps task types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for taskType.
func (r *Registry) Register(taskType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

// Lookup returns the handler for taskType.
func (r *Registry) Lookup(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Types returns the registered task types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
