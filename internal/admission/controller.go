// Package admission implements the sliding-window admission controller that
// bounds how often an upstream operation may be attempted.
package admission

import (
	"sync"
	"time"
)

// Default window settings.
const (
	DefaultLimit  = 60
	DefaultWindow = time.Minute
)

// Decision captures the outcome of an admission attempt.
type Decision struct {
	Allowed bool
	// Remaining is the number of further attempts the window would admit.
	Remaining int
	// RetryAfter is how long until the oldest timestamp leaves the window.
	// Zero when the attempt was admitted.
	RetryAfter time.Duration
}

// Stats is a point-in-time view of a controller.
type Stats struct {
	Name   string
	Limit  int
	Window time.Duration
	InUse  int
}

// Controller admits at most Limit attempts per rolling Window. Every
// attempt, admitted or not, first evicts timestamps older than now-Window;
// only admitted attempts record a timestamp. Safe for concurrent use.
type Controller struct {
	name   string
	clock  func() time.Time
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithName labels the controller for logs and metrics.
func WithName(name string) Option {
	return func(c *Controller) { c.name = name }
}

// New creates a controller. Non-positive values fall back to the defaults.
func New(limit int, window time.Duration, opts ...Option) *Controller {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	c := &Controller{
		clock:  func() time.Time { return time.Now().UTC() },
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the controller label.
func (c *Controller) Name() string {
	return c.name
}

// TryAdmit reports whether an attempt is admitted now.
func (c *Controller) TryAdmit() bool {
	return c.Admit().Allowed
}

// Admit runs one admission attempt and returns the full decision.
func (c *Controller) Admit() Decision {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	c.evictLocked(now)

	count := len(c.stamps)
	if count < c.limit {
		c.stamps = append(c.stamps, now)
		return Decision{Allowed: true, Remaining: c.limit - count - 1}
	}

	return Decision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: c.oldestLocked().Add(c.window).Sub(now),
	}
}

// Stats returns the current limit, window and number of timestamps inside it.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked(c.clock())
	return Stats{
		Name:   c.name,
		Limit:  c.limit,
		Window: c.window,
		InUse:  len(c.stamps),
	}
}

// Resize swaps in a new limit and window. Recorded timestamps are kept, so
// shrinking the limit below the current count denies until enough expire.
func (c *Controller) Resize(limit int, window time.Duration) {
	if limit <= 0 || window <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limit = limit
	c.window = window
}

// evictLocked drops timestamps older than now-window. Caller holds mu.
func (c *Controller) evictLocked(now time.Time) {
	cutoff := now.Add(-c.window)
	kept := c.stamps[:0]
	for _, ts := range c.stamps {
		if !ts.Before(cutoff) {
			kept = append(kept, ts)
		}
	}
	c.stamps = kept
}

func (c *Controller) oldestLocked() time.Time {
	oldest := c.stamps[0]
	for _, ts := range c.stamps[1:] {
		if ts.Before(oldest) {
			oldest = ts
		}
	}
	return oldest
}
