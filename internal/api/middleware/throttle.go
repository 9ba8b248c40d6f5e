package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/phrazzld/scry-jobs/internal/api/shared"
	"golang.org/x/time/rate"
)

// idleLimiterTTL is how long an unused per-user limiter is kept.
const idleLimiterTTL = 10 * time.Minute

// Throttle limits request rate per authenticated user with a token bucket.
// It must run after Authenticate.
type Throttle struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*userLimiter
	lastGC   time.Time
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle allows perMinute requests per user with the given burst.
// A non-positive perMinute returns nil, which Limit treats as disabled.
func NewThrottle(perMinute, burst int) *Throttle {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Throttle{
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		now:      time.Now,
		limiters: make(map[string]*userLimiter),
	}
}

// Limit rejects requests over the user's budget with 429.
func (t *Throttle) Limit(next http.Handler) http.Handler {
	if t == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := shared.UserIDFromContext(r.Context())
		if !ok {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "User ID not found")
			return
		}

		now := t.now()
		res := t.limiterFor(userID, now).ReserveN(now, 1)
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			w.Header().Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
			shared.RespondWithErrorAndLog(w, r, http.StatusTooManyRequests,
				"Too many job submissions, retry later", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Throttle) limiterFor(userID string, now time.Time) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastGC) > idleLimiterTTL {
		for id, l := range t.limiters {
			if now.Sub(l.lastSeen) > idleLimiterTTL {
				delete(t.limiters, id)
			}
		}
		t.lastGC = now
	}

	l, ok := t.limiters[userID]
	if !ok {
		l = &userLimiter{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.limiters[userID] = l
	}
	l.lastSeen = now
	return l.limiter
}
