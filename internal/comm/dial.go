package comm

import (
	"errors"
	"fmt"
	"strconv"
)

// maxEchoedToken bounds how much of a rejected token an error repeats.
const maxEchoedToken = 32

var (
	ErrMalformedValue = errors.New("comm: malformed value")
	ErrNoParser       = errors.New("comm: dial has no string parser")
)

type dialEntry[T any] struct {
	value T
	has   bool
	reset bool
}

// Dial is a resettable latched slot, typically parent to child.
type Dial[T any] struct {
	name  string
	cell  cell[dialEntry[T]]
	parse func(string) (T, error)
}

// NewDial builds a dial bound to clock. parse may be nil when the dial is
// never set from text.
func NewDial[T any](name string, clock Clock, parse func(string) (T, error)) *Dial[T] {
	return &Dial[T]{name: name, cell: newCell[dialEntry[T]](clock), parse: parse}
}

func (d *Dial[T]) Name() string { return d.name }

// Write latches v for the next frame. It returns false when a write was
// already accepted in the current frame.
func (d *Dial[T]) Write(v T) bool {
	return d.cell.write(dialEntry[T]{value: v, has: true})
}

// Reset latches "no value" and raises the reset flag for the next frame.
func (d *Dial[T]) Reset() bool {
	return d.cell.write(dialEntry[T]{reset: true})
}

func (d *Dial[T]) Read() (T, bool) {
	e := d.cell.read()
	return e.value, e.has
}

func (d *Dial[T]) HasValue() bool {
	return d.cell.read().has
}

func (d *Dial[T]) HasBeenReset() bool {
	return d.cell.read().reset
}

func (d *Dial[T]) State() State {
	return d.cell.state()
}

func (d *Dial[T]) Frames() WriteFrames {
	return d.cell.frames()
}

// SetFromString parses raw with the dial's parser and writes the result.
func (d *Dial[T]) SetFromString(raw string) (bool, error) {
	if d.parse == nil {
		return false, fmt.Errorf("%w: %s", ErrNoParser, d.name)
	}
	v, err := d.parse(raw)
	if err != nil {
		return false, malformed(d.name, raw, err)
	}
	return d.Write(v), nil
}

func malformed(name, raw string, err error) error {
	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		err = numErr.Err
	}
	token := raw
	if len(token) > maxEchoedToken {
		return fmt.Errorf("%w: dial=%s token=%q... (%d bytes): %v", ErrMalformedValue, name, token[:maxEchoedToken], len(raw), err)
	}
	return fmt.Errorf("%w: dial=%s token=%q: %v", ErrMalformedValue, name, token, err)
}

func (d *Dial[T]) String() string {
	v, ok := d.Read()
	if !ok {
		return ""
	}
	return fmt.Sprint(v)
}
