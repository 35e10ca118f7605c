package cache

import "sync/atomic"

// Clock is the monotonic logical clock actions are stamped with.
//
// Every accepted action gets a strictly increasing seq number. This gives:
// - Deterministic ordering (no wall-clock race conditions)
// - Replay in the exact order actions were applied
// - Stable content-addressed action IDs
//
// Thread-safety: safe for concurrent use (atomic operations), though the
// store's single-writer loop is the only caller in practice.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
// Used by replay to resume past the journal's last entry.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
