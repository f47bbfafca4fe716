// Package ticks provides the monotonic tick source the buffer cache uses to
// approximate recency of last release. It plays the role of the kernel
// clock subsystem's "ticks" global in the original design: a counter
// advanced from outside the cache, read atomically from inside it.
package ticks

import "sync/atomic"

// Source is the collaborator bufcache.Cache depends on for Now(). It is
// deliberately narrow so tests can swap in a Counter they advance by hand.
type Source interface {
	Now() uint64
}

// Counter is a monotonic, nondecreasing tick source driven by an external
// caller (a timer goroutine in production, a test calling Tick directly).
// It never goes backwards and never wraps in practice.
type Counter struct {
	v atomic.Uint64
}

// NewCounter returns a Counter starting at zero.
func NewCounter() *Counter {
	return &Counter{}
}

// Tick advances the counter by one and returns the new value. Production
// callers wire this to a time.Ticker; tests call it directly for
// deterministic eviction-order assertions.
func (c *Counter) Tick() uint64 {
	return c.v.Add(1)
}

// Now returns the current tick value without advancing it.
func (c *Counter) Now() uint64 {
	return c.v.Load()
}
