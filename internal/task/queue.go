package task

import (
	"fmt"
	"log/slog"
	"sync"
)

// jobQueue is a bounded FIFO of job IDs. An ID is held from Enqueue until
// Done so the same job is never queued or executed twice concurrently.
type jobQueue struct {
	ids    chan string
	mu     sync.Mutex
	held   map[string]struct{}
	logger *slog.Logger
}

func newJobQueue(size int, logger *slog.Logger) *jobQueue {
	return &jobQueue{
		ids:    make(chan string, size),
		held:   make(map[string]struct{}),
		logger: logger,
	}
}

// Enqueue adds id without blocking. It returns false with no error if the
// job is already queued or running.
func (q *jobQueue) Enqueue(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.held[id]; ok {
		return false, nil
	}
	select {
	case q.ids <- id:
		q.held[id] = struct{}{}
		q.logger.Debug("job enqueued",
			"job_id", id,
			"queue_len", len(q.ids),
			"queue_cap", cap(q.ids))
		return true, nil
	default:
		return false, fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.ids))
	}
}

// Done releases id after its worker finished with it.
func (q *jobQueue) Done(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.held, id)
}

// C returns the channel workers receive from.
func (q *jobQueue) C() <-chan string {
	return q.ids
}

// Len returns the number of queued IDs.
func (q *jobQueue) Len() int {
	return len(q.ids)
}
