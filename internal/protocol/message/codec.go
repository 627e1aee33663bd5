package message

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrNameTooLong = errors.New("message: name exceeds fixed field")
	errShortRecord = errors.New("message: short record")
)

// encoder appends big-endian fields.
type encoder struct {
	buf []byte
}

func (e *encoder) i16(v int16) {
	e.buf = binary.BigEndian.AppendUint16(e.buf, uint16(v))
}

func (e *encoder) i32(v int32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(v))
}

func (e *encoder) i64(v int64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(v))
}

func (e *encoder) f64(v float64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(v))
}

// fixed writes s NUL padded to size bytes. Strings longer than size fail
// unless truncate is set.
func (e *encoder) fixed(s string, size int, truncate bool) error {
	if len(s) > size {
		if !truncate {
			return fmt.Errorf("%w: %q > %d bytes", ErrNameTooLong, s, size)
		}
		s = s[:size]
	}
	start := len(e.buf)
	e.buf = append(e.buf, make([]byte, size)...)
	copy(e.buf[start:], s)
	return nil
}

// decoder consumes big-endian fields; the first short read sticks in err.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf)-d.off < n {
		d.err = errShortRecord
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) i16() int16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return int16(binary.BigEndian.Uint16(b))
}

func (d *decoder) i32() int32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (d *decoder) i64() int64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (d *decoder) f64() float64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func (d *decoder) fixed(size int) string {
	b := d.take(size)
	if b == nil {
		return ""
	}
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func encodeInt32s(v []int32) []byte {
	e := encoder{buf: make([]byte, 0, 4*len(v))}
	for _, x := range v {
		e.i32(x)
	}
	return e.buf
}

func decodeInt32s(b []byte) []int32 {
	d := decoder{buf: b}
	out := make([]int32, 0, len(b)/4)
	for d.remaining() >= 4 {
		out = append(out, d.i32())
	}
	return out
}

func encodeInt16s(v []int16) []byte {
	e := encoder{buf: make([]byte, 0, 2*len(v))}
	for _, x := range v {
		e.i16(x)
	}
	return e.buf
}

func decodeInt16s(b []byte) []int16 {
	d := decoder{buf: b}
	out := make([]int16, 0, len(b)/2)
	for d.remaining() >= 2 {
		out = append(out, d.i16())
	}
	return out
}
