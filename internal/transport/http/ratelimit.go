package http

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const rateWindow = time.Minute

// rateLimiter allows up to limit events per fixed one-minute window.
type rateLimiter struct {
	limit int
	clock clock.Clock

	mu          sync.Mutex
	counter     int
	windowStart time.Time
}

func newRateLimiter(limit int, c clock.Clock) *rateLimiter {
	if c == nil {
		c = clock.New()
	}
	return &rateLimiter{limit: limit, clock: c, windowStart: c.Now()}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if now := r.clock.Now(); now.Sub(r.windowStart) >= rateWindow {
		r.windowStart = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}
