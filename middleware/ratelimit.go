package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/loopkit/loopkit/schema"
)

// RateLimit throttles model calls to a budget per sliding minute.
// In blocking mode it waits until a slot frees; otherwise it fails
// the call with schema.ErrRateLimited.
type RateLimit struct {
	NopMiddleware
	perMinute int
	block     bool
	now       func() time.Time

	mu    sync.Mutex
	calls []time.Time
}

var _ Middleware = (*RateLimit)(nil)

// NewRateLimit creates a rate limiter allowing perMinute model calls.
func NewRateLimit(perMinute int, block bool) *RateLimit {
	return &RateLimit{perMinute: perMinute, block: block, now: time.Now}
}

func (r *RateLimit) Name() string { return "rate_limit" }

func (r *RateLimit) ProcessRequest(ctx context.Context, mc *Context) error {
	if mc.Operation != OpModelCall {
		return nil
	}
	for {
		wait, ok := r.tryAcquire()
		if ok {
			return nil
		}
		if !r.block {
			return schema.ErrRateLimited
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryAcquire records the call if under budget, else returns how long
// until the oldest recorded call leaves the window.
func (r *RateLimit) tryAcquire() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-time.Minute)
	kept := r.calls[:0]
	for _, t := range r.calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.calls = kept

	if len(r.calls) < r.perMinute {
		r.calls = append(r.calls, now)
		return 0, true
	}
	return r.calls[0].Sub(cutoff), false
}
