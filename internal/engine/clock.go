package engine

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic logical clock used to stamp events.
//
// Every published Event gets a strictly increasing Seq from Next. Consumers
// use it to discard events older than a snapshot they already hold.
type Clock struct {
	seq atomic.Uint64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() uint64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() uint64 {
	return c.seq.Load()
}

// TimeSource supplies monotonic timestamps for tap gaps and tick intervals.
type TimeSource interface {
	Now() time.Time
}

type systemTime struct{}

// Now returns time.Now, which carries a monotonic clock reading; Sub
// between two such values is immune to wall clock adjustments.
func (systemTime) Now() time.Time { return time.Now() }
