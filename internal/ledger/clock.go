package ledger

import (
	"sync"
	"time"
)

// Clock supplies the current time in unix seconds.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() int64 { return time.Now().Unix() }

// FixedClock returns a settable time. It is safe for concurrent use.
type FixedClock struct {
	mu  sync.Mutex
	now int64
}

// NewFixedClock returns a FixedClock reading now.
func NewFixedClock(now int64) *FixedClock { return &FixedClock{now: now} }

// Now implements Clock.
func (c *FixedClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to now.
func (c *FixedClock) Set(now int64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// Advance moves the clock forward by d, truncated to whole seconds.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += int64(d / time.Second)
	c.mu.Unlock()
}
