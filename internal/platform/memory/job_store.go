// Package memory provides mutex-guarded in-process stores. They back tests
// and single-process development runs (storage.driver=memory).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/store"
)

// JobStore implements store.JobRecords with a map guarded by one mutex.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

var _ store.JobRecords = (*JobStore)(nil)

// NewJobStore creates an empty JobStore.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*domain.Job)}
}

// Insert stores a new job.
func (s *JobStore) Insert(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", store.ErrJobExists, job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the job.
func (s *JobStore) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

// Update applies fn to a copy of the job under the store lock and keeps the
// copy only if fn succeeds.
func (s *JobStore) Update(_ context.Context, id string, fn store.JobMutation) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, id)
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

// ListByOwner returns the owner's jobs, newest first.
func (s *JobStore) ListByOwner(_ context.Context, owner string, limit, offset int) ([]*domain.Job, error) {
	return s.list(func(j *domain.Job) bool { return j.Owner == owner }, limit, offset), nil
}

// ListByCorrelation returns jobs for a correlation id, newest first.
func (s *JobStore) ListByCorrelation(
	_ context.Context,
	correlationID string,
	limit, offset int,
) ([]*domain.Job, error) {
	return s.list(func(j *domain.Job) bool { return j.CorrelationID == correlationID }, limit, offset), nil
}

// ListByStatus returns jobs in the given statuses, oldest first.
func (s *JobStore) ListByStatus(_ context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	wanted := make(map[domain.JobStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	s.mu.Lock()
	var out []*domain.Job
	for _, job := range s.jobs {
		if wanted[job.Status] {
			out = append(out, job.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func (s *JobStore) list(match func(*domain.Job) bool, limit, offset int) []*domain.Job {
	s.mu.Lock()
	var out []*domain.Job
	for _, job := range s.jobs {
		if match(job) {
			out = append(out, job.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return page(out, limit, offset)
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
