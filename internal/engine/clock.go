package engine

import "sync/atomic"

// Clock numbers executions in start order.
//
// Every top-level Query takes the next number and logs it as "exec", so
// the log lines of nested sub-query executions can be told apart from
// those of concurrent queries sharing the same compiled query.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next execution number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the number of executions started so far.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
