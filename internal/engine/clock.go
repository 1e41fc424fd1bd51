package engine

import "sync/atomic"

// Clock is the monotonic logical clock that orders fired edges.
//
// Every edge fired by a Scheduler is stamped with the next seq from its
// Clock. Seq gives a total order across domains that survives replay from the
// store, independent of simulated time resolution.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations). The
// Scheduler itself is single-threaded and is the only caller in practice.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used to continue numbering across runs sharing one store.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
