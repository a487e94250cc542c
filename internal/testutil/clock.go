// Package testutil holds helpers shared by package tests.
package testutil

import "sync"

// Epoch is the first stamp a WallClock returns: 2024-01-01T00:00:00Z in
// unix milliseconds.
const Epoch int64 = 1704067200000

// WallClock is a deterministic stand-in for the wall clock the runtime
// stamps ledger entries with. Each call to Now advances it by Step
// milliseconds, so runs of the same scenario record identical stamps.
//
// Thread-safety: All methods are safe for concurrent use.
type WallClock struct {
	mu    sync.Mutex
	start int64
	step  int64
	calls int64
}

// NewWallClock creates a clock whose first Now returns start and each
// later call step milliseconds more.
func NewWallClock(start, step int64) *WallClock {
	return &WallClock{start: start, step: step}
}

// Now returns the next stamp. Its signature matches engine.WithWallClock.
func (c *WallClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.start + c.calls*c.step
	c.calls++
	return ts
}

// Calls reports how many stamps were handed out.
func (c *WallClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock; the next Now returns start again.
func (c *WallClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
