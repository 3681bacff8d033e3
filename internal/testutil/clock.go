package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start time of a FakeClock.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// FakeClock is a wall clock for tests. Every Now call advances it by a
// fixed step, so consecutive history entries get distinct, predictable
// timestamps.
//
// Unlike the system clock, FakeClock can be reset for test reuse, letting
// the same scenario produce byte-identical reports.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// NewFakeClock creates a clock at start that advances by step on every
// Now. A zero start means Epoch.
func NewFakeClock(start time.Time, step time.Duration) *FakeClock {
	if start.IsZero() {
		start = Epoch
	}
	return &FakeClock{start: start, now: start, step: step}
}

// Now returns the current time and then advances the clock by one step.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Peek returns the time the next Now call will return.
func (c *FakeClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d without a Now call.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset moves the clock back to its start time.
func (c *FakeClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
