package scheduler

import (
	"sync/atomic"
	"time"
)

// Clock supplies the table's notion of time in microseconds. Only
// differences between readings are meaningful.
type Clock interface {
	NowUSec() int64
}

// MonotonicClock reads the process monotonic clock relative to its creation.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a clock starting at zero now.
func NewMonotonicClock() *MonotonicClock { return &MonotonicClock{start: time.Now()} }

// NowUSec returns microseconds since the clock was created.
func (c *MonotonicClock) NowUSec() int64 { return time.Since(c.start).Microseconds() }

// ManualClock only moves when told to. Safe for concurrent use.
type ManualClock struct {
	now atomic.Int64
}

func (c *ManualClock) NowUSec() int64          { return c.now.Load() }
func (c *ManualClock) Set(usec int64)          { c.now.Store(usec) }
func (c *ManualClock) Advance(d time.Duration) { c.now.Add(d.Microseconds()) }
