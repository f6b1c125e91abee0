// Package testutil provides deterministic test doubles shared across the
// engine's test suites: a settable wall clock and scripted content-API
// and homeserver clients.
package testutil

import (
	"sync"
	"time"
)

// FakeClock is a settable wall clock for TTL and refresher tests.
//
// Thread-safe: all methods are safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock fixed at the given instant.
func NewFakeClock(at time.Time) *FakeClock {
	return &FakeClock{now: at}
}

// Now returns the clock's current instant.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// NowMillis returns the current instant as epoch millis.
func (c *FakeClock) NowMillis() int64 {
	return c.Now().UnixMilli()
}

// Advance moves the clock forward by d. Never moves backward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
}
