// Package task executes queued jobs off the request path.
//
// A Runner owns a fixed pool of workers reading job IDs from a bounded
// queue. Each job is driven through the store's state machine by exactly
// one worker, its Handler is invoked with a Progress reporter, and one
// terminal event is published when the job finishes. Cancellation is
// cooperative: the reporter checks the stored status at every checkpoint
// and aborts the handler with ErrJobCanceled.
package task
