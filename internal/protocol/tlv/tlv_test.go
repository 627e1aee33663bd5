package tlv

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		String(1, "car-1"),
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	b := EncodeFields(in)
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestTypedGetters(t *testing.T) {
	fields, err := DecodeFields(EncodeFields([]Field{
		String(1, "MaxSpeed"),
		I32(2, -12),
		F64(3, 27.5),
		U32(4, 60),
		Bool(5, true),
	}))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if v, err := GetString(fields, 1); err != nil || v != "MaxSpeed" {
		t.Fatalf("string: %q %v", v, err)
	}
	if v, err := GetI32(fields, 2); err != nil || v != -12 {
		t.Fatalf("i32: %d %v", v, err)
	}
	if v, err := GetF64(fields, 3); err != nil || v != 27.5 {
		t.Fatalf("f64: %v %v", v, err)
	}
	if v, err := GetU32(fields, 4); err != nil || v != 60 {
		t.Fatalf("u32: %d %v", v, err)
	}
	if v, err := GetBool(fields, 5); err != nil || !v {
		t.Fatalf("bool: %v %v", v, err)
	}
	if _, err := GetF64(fields, 1); err == nil {
		t.Fatalf("expected type mismatch")
	}
	if _, err := GetString(fields, 77); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}
