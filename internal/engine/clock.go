package engine

import "sync/atomic"

// Clock hands out the logical timesteps that order inputs.
//
// Timesteps are strictly increasing and start at 1. A runtime reopening
// a persistent database resumes from the ledger's last timestep.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// The runtime serializes inputs, so in practice one goroutine calls Next.
type Clock struct {
	ts atomic.Int64
}

// NewClock creates a clock whose first timestep is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next timestep is last+1.
func NewClockAt(last int64) *Clock {
	c := &Clock{}
	c.ts.Store(last)
	return c
}

// Next returns the next timestep.
func (c *Clock) Next() int64 {
	return c.ts.Add(1)
}

// Peek returns the timestep Next will hand out, without taking it.
func (c *Clock) Peek() int64 {
	return c.ts.Load() + 1
}

// Current returns the last timestep handed out, 0 before the first.
func (c *Clock) Current() int64 {
	return c.ts.Load()
}
