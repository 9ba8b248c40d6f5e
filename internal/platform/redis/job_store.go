// Package redis provides a Redis-backed job store. Each job is a JSON
// document under its own key; secondary sorted sets index jobs by owner,
// correlation id and status.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/phrazzld/scry-jobs/internal/domain"
	"github.com/phrazzld/scry-jobs/internal/store"
	goredis "github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix         = "job:"
	ownerIndexPrefix     = "jobs:owner:"
	correlationPrefix    = "jobs:correlation:"
	statusIndexPrefix    = "jobs:status:"
	maxOptimisticRetries = 50
)

// JobStore implements store.JobRecords on Redis. Updates use WATCH and a
// MULTI/EXEC pipeline, retrying when another writer changed the key first.
type JobStore struct {
	rdb    *goredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ store.JobRecords = (*JobStore)(nil)

// NewJobStore creates a JobStore. A zero ttl keeps jobs forever.
func NewJobStore(rdb *goredis.Client, ttl time.Duration, logger *slog.Logger) *JobStore {
	return &JobStore{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With("component", "redis_job_store"),
	}
}

// Insert stores a new job and its index entries in one MULTI/EXEC under
// WATCH, so a job key never exists without its status entry. If EXEC
// reports a failed command the partial write is removed again.
func (s *JobStore) Insert(ctx context.Context, job *domain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	key := jobKey(job.ID)
	score := float64(job.CreatedAt.UnixNano())

	var executed bool
	txf := func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", store.ErrJobExists, job.ID)
		}
		executed = true
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			for _, index := range jobIndexes(job) {
				pipe.ZAdd(ctx, index, goredis.Z{Score: score, Member: job.ID})
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		executed = false
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if errors.Is(err, store.ErrJobExists) {
			return err
		}
		if err != nil {
			s.logger.Error("failed to insert job", "job_id", job.ID, "error", err)
			if executed {
				s.discard(ctx, job)
			}
			return store.NewStoreError("job", "insert", "redis error", err)
		}
		return nil
	}
	return fmt.Errorf("%w: job %s insert contended too many times", store.ErrTransactionFailed, job.ID)
}

// discard removes a job whose insert transaction partly failed.
func (s *JobStore) discard(ctx context.Context, job *domain.Job) {
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, jobKey(job.ID))
		for _, index := range jobIndexes(job) {
			pipe.ZRem(ctx, index, job.ID)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to remove partially inserted job", "job_id", job.ID, "error", err)
	}
}

// jobIndexes lists the sorted sets a job belongs to at creation.
func jobIndexes(job *domain.Job) []string {
	indexes := []string{statusIndexPrefix + string(job.Status)}
	if job.Owner != "" {
		indexes = append(indexes, ownerIndexPrefix+job.Owner)
	}
	if job.CorrelationID != "" {
		indexes = append(indexes, correlationPrefix+job.CorrelationID)
	}
	return indexes
}

// Get returns the job with the given ID.
func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%w: %s", store.ErrJobNotFound, id)
		}
		return nil, store.NewStoreError("job", "get", "redis error", err)
	}
	return decodeJob(data)
}

// Update applies fn under WATCH. If the key changes before EXEC the whole
// read-modify-write is retried against the fresh value.
func (s *JobStore) Update(ctx context.Context, id string, fn store.JobMutation) (*domain.Job, error) {
	key := jobKey(id)
	var updated *domain.Job

	txf := func(tx *goredis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return fmt.Errorf("%w: %s", store.ErrJobNotFound, id)
			}
			return err
		}
		job, err := decodeJob(data)
		if err != nil {
			return err
		}
		previous := job.Status
		if err := fn(job); err != nil {
			return err
		}
		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, payload, goredis.KeepTTL)
			if previous != job.Status {
				pipe.ZRem(ctx, statusIndexPrefix+string(previous), job.ID)
				pipe.ZAdd(ctx, statusIndexPrefix+string(job.Status), goredis.Z{
					Score:  float64(job.CreatedAt.UnixNano()),
					Member: job.ID,
				})
			}
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("%w: job %s changed concurrently too many times", store.ErrTransactionFailed, id)
}

// ListByOwner returns the owner's jobs, newest first.
func (s *JobStore) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*domain.Job, error) {
	return s.listIndex(ctx, ownerIndexPrefix+owner, limit, offset, true)
}

// ListByCorrelation returns jobs for an external resource, newest first.
func (s *JobStore) ListByCorrelation(
	ctx context.Context,
	correlationID string,
	limit, offset int,
) ([]*domain.Job, error) {
	return s.listIndex(ctx, correlationPrefix+correlationID, limit, offset, true)
}

// ListByStatus returns jobs in the given statuses, oldest first.
func (s *JobStore) ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	var out []*domain.Job
	for _, st := range statuses {
		jobs, err := s.listIndex(ctx, statusIndexPrefix+string(st), 0, 0, false)
		if err != nil {
			return nil, err
		}
		out = append(out, jobs...)
	}
	sortOldestFirst(out)
	return out, nil
}

func (s *JobStore) listIndex(ctx context.Context, index string, limit, offset int, newestFirst bool) ([]*domain.Job, error) {
	start, stop := indexRange(limit, offset)

	var (
		ids []string
		err error
	)
	if newestFirst {
		ids, err = s.rdb.ZRevRange(ctx, index, start, stop).Result()
	} else {
		ids, err = s.rdb.ZRange(ctx, index, start, stop).Result()
	}
	if err != nil {
		return nil, store.NewStoreError("job", "list", "failed to read index "+index, err)
	}
	if len(ids) == 0 {
		return []*domain.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, store.NewStoreError("job", "list", "failed to load jobs", err)
	}

	jobs := make([]*domain.Job, 0, len(values))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired job still referenced by the index
			stale = append(stale, ids[i])
			continue
		}
		job, err := decodeJob([]byte(raw))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if len(stale) > 0 {
		if err := s.rdb.ZRem(ctx, index, stale...).Err(); err != nil {
			s.logger.Warn("failed to prune stale index entries", "index", index, "error", err)
		}
	}
	return jobs, nil
}

// indexRange converts limit/offset into inclusive ZRANGE bounds. A
// non-positive limit reads to the end of the set.
func indexRange(limit, offset int) (int64, int64) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return int64(offset), -1
	}
	return int64(offset), int64(offset + limit - 1)
}

func decodeJob(data []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

func sortOldestFirst(jobs []*domain.Job) {
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
