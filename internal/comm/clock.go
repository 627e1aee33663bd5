package comm

import "sync/atomic"

// Clock supplies the current simulation frame to slots.
type Clock interface {
	Frame() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

func (f ClockFunc) Frame() int64 { return f() }

// ManualClock is a settable frame counter. Reads are atomic so admin
// surfaces may observe the frame from other goroutines.
type ManualClock struct {
	frame atomic.Int64
}

func NewManualClock(start int64) *ManualClock {
	c := &ManualClock{}
	c.frame.Store(start)
	return c
}

func (c *ManualClock) Frame() int64 {
	return c.frame.Load()
}

func (c *ManualClock) Set(frame int64) {
	c.frame.Store(frame)
}

// Advance moves the clock forward one frame and returns the new frame.
func (c *ManualClock) Advance() int64 {
	return c.frame.Add(1)
}
