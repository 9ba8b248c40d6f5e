package generation

import (
	"context"
	"log/slog"
	"time"
)

// Retry defaults: two attempts, 2s first delay doubling up to 10s.
const (
	DefaultMaxAttempts = 2
	DefaultBackoffBase = 2 * time.Second
	DefaultBackoffMax  = 10 * time.Second
)

// Retrier runs an operation up to MaxAttempts times while it fails with a
// retryable error (see IsRetryable).
type Retrier struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Sleep       SleepFunc
	Logger      *slog.Logger
}

// NewRetrier creates a Retrier, replacing non-positive values with defaults.
func NewRetrier(maxAttempts int, base, max time.Duration, logger *slog.Logger) *Retrier {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max < base {
		max = DefaultBackoffMax
		if max < base {
			max = base
		}
	}
	return &Retrier{
		MaxAttempts: maxAttempts,
		Base:        base,
		Max:         max,
		Sleep:       Sleep,
		Logger:      logger,
	}
}

// Delay returns the wait before the attempt following attempt n (1-based).
func (r *Retrier) Delay(n int) time.Duration {
	d := r.Base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= r.Max {
			return r.Max
		}
	}
	if d > r.Max {
		return r.Max
	}
	return d
}

// Do calls op until it succeeds, fails with a non-retryable error, or the
// attempts run out. The last error is returned unchanged.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	var err error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		err = op(ctx, attempt)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			r.log().WarnContext(ctx, "completion failed with permanent error, not retrying",
				"attempt", attempt,
				"error", err)
			return err
		}
		if attempt == r.MaxAttempts {
			break
		}

		delay := r.Delay(attempt)
		r.log().InfoContext(ctx, "retrying completion after delay",
			"attempt", attempt,
			"max_attempts", r.MaxAttempts,
			"delay", delay,
			"error", err)
		if sleepErr := r.Sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}

	r.log().WarnContext(ctx, "completion attempts exhausted",
		"max_attempts", r.MaxAttempts,
		"error", err)
	return err
}

func (r *Retrier) log() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
