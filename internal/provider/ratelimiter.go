package provider

import (
	"context"
	"sync"
	"time"

	"github.com/ziadkadry99/issue-sync/internal/clock"
)

// rateLimiter is a token bucket that allows at most rpm requests per
// minute against one provider.
type rateLimiter struct {
	rpm      int
	clock    clock.Clock
	mu       sync.Mutex
	tokens   int
	lastFill time.Time
}

func newRateLimiter(rpm int, clk clock.Clock) *rateLimiter {
	return &rateLimiter{
		rpm:      rpm,
		clock:    clk,
		tokens:   rpm,
		lastFill: clk.Now(),
	}
}

func (r *rateLimiter) wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := r.clock.Now()
		elapsed := now.Sub(r.lastFill)

		refill := int(elapsed.Seconds() * float64(r.rpm) / 60.0)
		if refill > 0 {
			r.tokens += refill
			if r.tokens > r.rpm {
				r.tokens = r.rpm
			}
			r.lastFill = now
		}

		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.clock.After(time.Minute / time.Duration(r.rpm)):
		}
	}
}
