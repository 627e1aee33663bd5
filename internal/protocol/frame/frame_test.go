package frame

import (
	"bytes"
	"errors"
	"testing"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	in := Frame{Opcode: 7, Payload: []byte("vehicle car1 0 0 10")}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if buf.Len() != HeaderLen+len(in.Payload) {
		t.Fatalf("unexpected encoded length: %d", buf.Len())
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Opcode != in.Opcode || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("frame mismatch: got=%+v want=%+v", out, in)
	}
}

func TestZeroLengthPayloadReadsNoBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Opcode: 1}, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	// trailing bytes belong to the next frame and must stay unread
	buf.Write([]byte{0xAA, 0xBB})
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Opcode != 1 || len(out.Payload) != 0 {
		t.Fatalf("unexpected frame: %+v", out)
	}
	if buf.Len() != 2 {
		t.Fatalf("body read consumed %d trailing bytes", 2-buf.Len())
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameBadStartMarker(t *testing.T) {
	buf := EncodeHeader(Header{Opcode: 1, PayloadLen: 0, StartMarker: 0xDEADBEEF})
	_, err := ReadFrame(bytes.NewReader(buf), DefaultLimits())
	if !errors.Is(err, ErrBadStartMarker) {
		t.Fatalf("expected ErrBadStartMarker, got %v", err)
	}
}

func TestPayloadCapacityEnforced(t *testing.T) {
	limits := Limits{MaxFrameBytes: HeaderLen + 8}
	if err := WriteFrame(&bytes.Buffer{}, Frame{Opcode: 1, Payload: make([]byte, 9)}, limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on write, got %v", err)
	}
	buf := EncodeHeader(Header{Opcode: 1, PayloadLen: 9, StartMarker: StartMarker})
	if _, err := ReadFrame(bytes.NewReader(buf), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on read, got %v", err)
	}
}

func TestUnmarshalDatagram(t *testing.T) {
	b, err := Marshal(Frame{Opcode: 42, Payload: []byte{1, 2, 3}}, DefaultLimits())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f, err := Unmarshal(b, DefaultLimits())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Opcode != 42 || !bytes.Equal(f.Payload, []byte{1, 2, 3}) {
		t.Fatalf("unexpected frame: %+v", f)
	}
	if _, err := Unmarshal(b[:len(b)-1], DefaultLimits()); !errors.Is(err, ErrShortPayload) {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
}
