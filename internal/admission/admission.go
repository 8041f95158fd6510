// Package admission limits how often a caller number may start calls.
package admission

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sebas/frontdesk/internal/store"
)

const (
	// IdleTTL is how long an unused caller bucket is kept.
	IdleTTL = 10 * time.Minute
	// SweepInterval is how often idle buckets are reaped.
	SweepInterval = time.Minute
)

// Controller keeps a token bucket per caller number.
type Controller struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets *store.TTLStore[string, *rate.Limiter]
}

// New creates a controller allowing perMinute calls per caller with the
// given burst. A non-positive perMinute disables limiting and returns nil;
// a nil controller admits every call.
func New(perMinute float64, burst int) *Controller {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Controller{
		limit:   rate.Limit(perMinute / 60),
		burst:   burst,
		buckets: store.NewTTLStore[string, *rate.Limiter](SweepInterval, nil),
	}
}

// Allow reports whether caller may start a call now and consumes a token
// when it may.
func (c *Controller) Allow(caller string) bool {
	return c.allowAt(caller, time.Now())
}

func (c *Controller) allowAt(caller string, now time.Time) bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	lim, ok := c.buckets.Get(caller)
	if !ok {
		lim = rate.NewLimiter(c.limit, c.burst)
	}
	c.buckets.Set(caller, lim, IdleTTL)
	c.mu.Unlock()

	return lim.AllowN(now, 1)
}

// Tracked returns the number of caller buckets held.
func (c *Controller) Tracked() int {
	if c == nil {
		return 0
	}
	return c.buckets.Len()
}

// Close stops reaping idle buckets.
func (c *Controller) Close() {
	if c != nil {
		c.buckets.Close()
	}
}
