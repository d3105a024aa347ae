package test_test

import (
	"sync"
	"time"
)

// UTCTime creates instance of time in UTC timezone this helps avoid problems running tests with different timezone computers
func UTCTime(sec int64) time.Time {
	return time.Unix(sec, 0).In(time.UTC)
}

// Clock is manually advanced clock. Its Now method can be given to engines instead of time.Now.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates clock starting from given time.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns current time of the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves clock forward by given duration.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
