package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderLen = 12
	// StartMarker is the constant third header word ("HCS1").
	StartMarker uint32 = 0x48435331
	// MaxFrameSize bounds one frame, header included.
	MaxFrameSize = 16 * 1024
)

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrBadStartMarker  = errors.New("frame: bad start marker")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrShortPayload    = errors.New("frame: short payload")
)

// Header is the fixed wire header. All words are big-endian on both the
// command and the telemetry channel.
type Header struct {
	Opcode      uint32
	PayloadLen  uint32
	StartMarker uint32
}

// Frame is one complete wire message.
type Frame struct {
	Opcode  uint32
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxFrameBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxFrameBytes: MaxFrameSize}
}

// PayloadCapacity is the usable payload bytes per frame.
func (l Limits) PayloadCapacity() int {
	if l.MaxFrameBytes <= HeaderLen {
		return DefaultLimits().PayloadCapacity()
	}
	return l.MaxFrameBytes - HeaderLen
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var hb [HeaderLen]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}
	h, err := DecodeHeader(hb[:])
	if err != nil {
		return Frame{}, err
	}
	if err := checkHeader(h, limits); err != nil {
		return Frame{}, err
	}
	if h.PayloadLen == 0 {
		return Frame{Opcode: h.Opcode}, nil
	}
	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrShortPayload
		}
		return Frame{}, err
	}
	return Frame{Opcode: h.Opcode, Payload: payload}, nil
}

func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	b, err := Marshal(f, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Marshal renders f as header plus payload in one buffer so a frame is
// written with a single call.
func Marshal(f Frame, limits Limits) ([]byte, error) {
	if len(f.Payload) > limits.PayloadCapacity() {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(f.Payload), limits.PayloadCapacity())
	}
	buf := make([]byte, HeaderLen+len(f.Payload))
	putHeader(buf, Header{Opcode: f.Opcode, PayloadLen: uint32(len(f.Payload)), StartMarker: StartMarker})
	copy(buf[HeaderLen:], f.Payload)
	return buf, nil
}

// Unmarshal decodes one frame that fills b exactly, as received in a
// telemetry datagram.
func Unmarshal(b []byte, limits Limits) (Frame, error) {
	if len(b) < HeaderLen {
		return Frame{}, ErrShortHeader
	}
	h, err := DecodeHeader(b[:HeaderLen])
	if err != nil {
		return Frame{}, err
	}
	if err := checkHeader(h, limits); err != nil {
		return Frame{}, err
	}
	body := b[HeaderLen:]
	if uint32(len(body)) < h.PayloadLen {
		return Frame{}, ErrShortPayload
	}
	if h.PayloadLen == 0 {
		return Frame{Opcode: h.Opcode}, nil
	}
	payload := make([]byte, h.PayloadLen)
	copy(payload, body)
	return Frame{Opcode: h.Opcode, Payload: payload}, nil
}

func checkHeader(h Header, limits Limits) error {
	if h.StartMarker != StartMarker {
		return fmt.Errorf("%w: 0x%08x", ErrBadStartMarker, h.StartMarker)
	}
	if int(h.PayloadLen) > limits.PayloadCapacity() {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, h.PayloadLen, limits.PayloadCapacity())
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	putHeader(buf, h)
	return buf
}

func putHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint32(buf[0:4], h.Opcode)
	binary.BigEndian.PutUint32(buf[4:8], h.PayloadLen)
	binary.BigEndian.PutUint32(buf[8:12], h.StartMarker)
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid header length: %d", len(b))
	}
	return Header{
		Opcode:      binary.BigEndian.Uint32(b[0:4]),
		PayloadLen:  binary.BigEndian.Uint32(b[4:8]),
		StartMarker: binary.BigEndian.Uint32(b[8:12]),
	}, nil
}
