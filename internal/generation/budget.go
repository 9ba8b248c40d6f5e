package generation

import (
	"context"
	"sync"
	"time"
)

// Default budget: 14000 estimated tokens per minute.
const (
	DefaultTokenBudget  = 14000
	DefaultBudgetWindow = 60 * time.Second
)

// TokenBudget is a fixed-window limiter over estimated call cost. A call
// that does not fit the remaining budget waits for the window to reset and
// is then admitted; calls are delayed, never dropped.
//
// The counter is local to one process.
type TokenBudget struct {
	budget int
	window time.Duration
	now    func() time.Time
	sleep  SleepFunc

	mu          sync.Mutex
	used        int
	windowStart time.Time
}

// NewTokenBudget creates a limiter allowing budget units per window.
func NewTokenBudget(budget int, window time.Duration) *TokenBudget {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	if window <= 0 {
		window = DefaultBudgetWindow
	}
	return &TokenBudget{
		budget: budget,
		window: window,
		now:    time.Now,
		sleep:  Sleep,
	}
}

// WithClock replaces the time source and sleep function, for tests.
func (b *TokenBudget) WithClock(now func() time.Time, sleep SleepFunc) *TokenBudget {
	b.now = now
	b.sleep = sleep
	return b
}

// Acquire blocks until cost fits in the current window and records it.
// An empty window always admits the call, so a single call larger than the
// budget still runs. It returns the time spent waiting.
func (b *TokenBudget) Acquire(ctx context.Context, cost int) (time.Duration, error) {
	var waited time.Duration
	for {
		b.mu.Lock()
		now := b.now()
		if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.window {
			b.windowStart = now
			b.used = 0
		}
		if b.used == 0 || b.used+cost <= b.budget {
			b.used += cost
			b.mu.Unlock()
			return waited, nil
		}
		start := b.windowStart
		wait := start.Add(b.window).Sub(now)
		b.mu.Unlock()

		if err := b.sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait

		b.mu.Lock()
		// the first waiter to wake resets the window; later ones see a new
		// windowStart and re-check against it
		if b.windowStart.Equal(start) {
			b.windowStart = b.now()
			b.used = 0
		}
		b.mu.Unlock()
	}
}

// Used returns the cost recorded in the current window.
func (b *TokenBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
