package testutil

import (
	"sync"
	"time"
)

// ManualClock is a wall clock that only moves when told to.
//
// Services read it through model.Clock, so a test can fix "now", run an
// ingest batch, then step past a heartbeat or stream-timeout deadline and
// drain the outbox deterministically.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock reading startMillis (Unix milliseconds).
func NewManualClock(startMillis int64) *ManualClock {
	return &ManualClock{now: time.UnixMilli(startMillis)}
}

// Now returns the current reading.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Millis returns the current reading as Unix milliseconds.
func (c *ManualClock) Millis() int64 {
	return c.Now().UnixMilli()
}

// Advance moves the clock forward by d and returns the new reading in
// Unix milliseconds. Negative durations are ignored; the clock never runs
// backwards.
func (c *ManualClock) Advance(d time.Duration) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now.UnixMilli()
}

// Set jumps the clock to millis.
func (c *ManualClock) Set(millis int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.UnixMilli(millis)
}
