// Package testutil provides deterministic stand-ins for the wall clock and
// ID sources so tests and harness scenarios produce byte-stable output.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the conventional starting instant for deterministic tests.
var Epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// Clock is a settable time source shared across an engine, pipeline, and
// worker so scheduled work (retry backoff, strategic retries) can be reached
// by advancing time instead of sleeping.
//
// Thread-safety: all methods are safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a Clock frozen at the given instant.
func NewClock(at time.Time) *Clock {
	return &Clock{now: at}
}

// Now returns the current instant. Pass the method value as a func() time.Time
// option to the components under test.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward and returns the new instant.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to an absolute instant.
func (c *Clock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at
}
