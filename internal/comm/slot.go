package comm

import "fmt"

// State is the explicit lifecycle of a slot relative to the current frame.
type State int

const (
	// StateUnwritten: no write has ever been accepted.
	StateUnwritten State = iota
	// StatePending: a write was accepted in the current frame and is not
	// yet visible.
	StatePending
	// StateSettled: the last accepted write is visible.
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateUnwritten:
		return "unwritten"
	case StatePending:
		return "pending"
	case StateSettled:
		return "settled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// cell is the double buffer behind every latched slot. before holds what
// readers saw prior to the last accepted write; latest holds that write.
type cell[E any] struct {
	clock Clock

	before E
	latest E

	written   bool
	hasPrev   bool
	lastWrite int64
	prevWrite int64
}

func newCell[E any](clock Clock) cell[E] {
	if clock == nil {
		panic("comm: nil clock")
	}
	return cell[E]{clock: clock}
}

// write accepts e unless a write was already accepted this frame.
func (c *cell[E]) write(e E) bool {
	f := c.clock.Frame()
	if c.written && c.lastWrite == f {
		return false
	}
	c.before = c.latest
	c.latest = e
	if c.written {
		c.prevWrite = c.lastWrite
		c.hasPrev = true
	}
	c.lastWrite = f
	c.written = true
	return true
}

// read returns the entry visible in the current frame.
func (c *cell[E]) read() E {
	if !c.written {
		var zero E
		return zero
	}
	if c.lastWrite == c.clock.Frame() {
		return c.before
	}
	return c.latest
}

func (c *cell[E]) state() State {
	switch {
	case !c.written:
		return StateUnwritten
	case c.lastWrite == c.clock.Frame():
		return StatePending
	default:
		return StateSettled
	}
}

// WriteFrames reports the frame of the last accepted write and the one
// before it. ok is false until the first write.
type WriteFrames struct {
	Last     int64
	Previous int64
	HasPrev  bool
	OK       bool
}

func (c *cell[E]) frames() WriteFrames {
	return WriteFrames{Last: c.lastWrite, Previous: c.prevWrite, HasPrev: c.hasPrev, OK: c.written}
}
