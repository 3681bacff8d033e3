package engine

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic logical clock used to order step history.
//
// Wall-clock timestamps may repeat or step backwards, so every history
// entry is also stamped with a strictly increasing seq from this clock.
// Entries are ordered by (time, seq).
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// WallClock supplies timestamps for step history and calibration records.
// Implemented by SystemClock (production) and testutil.FakeClock (tests).
type WallClock interface {
	Now() time.Time
}

// SystemClock reads the system time.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}
