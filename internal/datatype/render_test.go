package datatype

import (
	"errors"
	"testing"
)

func TestRenderDecimalSigned(t *testing.T) {
	v, err := NewAnonymousValue("-42").Deanonymize(I16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := v.Render(DisplayDecimal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "-42" {
		t.Fatalf("got %q, want -42", got)
	}
}

func TestRenderHexAndBinary(t *testing.T) {
	v := Value{Type: U16, Bytes: []byte{0x2a, 0x00}} // 42 little-endian
	hex, err := v.Render(DisplayHex)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hex != "002a" {
		t.Fatalf("hex = %q, want 002a", hex)
	}
	bin, err := v.Render(DisplayBinary)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bin != "0000000000101010" {
		t.Fatalf("bin = %q", bin)
	}
}

func TestRenderAddress(t *testing.T) {
	v, err := NewAnonymousValueHinted("7ffe1000", HintHex).Deanonymize(U64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := v.Render(DisplayAddress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0x000000007ffe1000" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderRejectsWrongByteCount(t *testing.T) {
	v := Value{Type: U32, Bytes: []byte{1, 2}}
	_, err := v.Render(DisplayDecimal)
	var byteErr *InvalidByteCountError
	if !errors.As(err, &byteErr) {
		t.Fatalf("got %v, want InvalidByteCountError", err)
	}
	if byteErr.Expected != 4 || byteErr.Actual != 2 {
		t.Fatalf("got %+v", byteErr)
	}
}

func TestRenderBool(t *testing.T) {
	v, err := NewAnonymousValue("true").Deanonymize(Bool8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := v.Render(DisplayDecimal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "true" {
		t.Fatalf("got %q, want true", got)
	}
}

func TestRenderUTF8String(t *testing.T) {
	v, err := NewAnonymousValue("hello").Deanonymize(Str)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := v.Render(DisplayDecimal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q, want hello", got)
	}
}

// TestRenderDecodeRoundTrip exercises the encoding law: decoding a rendered
// value reproduces the original bytes, for every listed scalar type in
// decimal, hex and binary.
func TestRenderDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		id      ID
		literal string
	}{
		{U8, "200"},
		{I8, "-100"},
		{U16, "65535"},
		{I16, "-32768"},
		{U32, "4000000000"},
		{I32, "-2000000000"},
		{U64, "18446744073709551615"},
		{I64, "-9223372036854775808"},
		{U32BE, "305419896"},
		{I64BE, "-42"},
		{F32, "1.5"},
		{F64, "-2.25"},
		{F64BE, "1024.5"},
	}
	formats := []DisplayFormat{DisplayDecimal, DisplayHex, DisplayBinary}

	for _, tc := range cases {
		orig, err := NewAnonymousValue(tc.literal).Deanonymize(tc.id)
		if err != nil {
			t.Fatalf("%s: deanonymize: %v", tc.id, err)
		}
		for _, format := range formats {
			text, err := orig.Render(format)
			if err != nil {
				t.Fatalf("%s/%d: render: %v", tc.id, format, err)
			}
			back, err := Decode(tc.id, text, format)
			if err != nil {
				t.Fatalf("%s/%d: decode %q: %v", tc.id, format, text, err)
			}
			if len(back.Bytes) != len(orig.Bytes) {
				t.Fatalf("%s/%d: length mismatch", tc.id, format)
			}
			for i := range orig.Bytes {
				if back.Bytes[i] != orig.Bytes[i] {
					t.Fatalf("%s/%d: round trip %q: got %v, want %v", tc.id, format, text, back.Bytes, orig.Bytes)
				}
			}
		}
	}
}

func TestBigEndianEncoding(t *testing.T) {
	v, err := NewAnonymousValue("1").Deanonymize(U32BE)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0, 0, 0, 1}
	for i := range want {
		if v.Bytes[i] != want[i] {
			t.Fatalf("got %v, want %v", v.Bytes, want)
		}
	}
}

func TestHintedHexAndBinaryLiterals(t *testing.T) {
	v, err := NewAnonymousValueHinted("0xff", HintHex).Deanonymize(U8)
	if err != nil {
		t.Fatalf("hex: %v", err)
	}
	if v.Bytes[0] != 0xff {
		t.Fatalf("hex: got %v", v.Bytes)
	}

	v, err = NewAnonymousValueHinted("0b1010", HintBinary).Deanonymize(U8)
	if err != nil {
		t.Fatalf("binary: %v", err)
	}
	if v.Bytes[0] != 10 {
		t.Fatalf("binary: got %v", v.Bytes)
	}

	if _, err := NewAnonymousValueHinted("abc", HintString).Deanonymize(U32); err == nil {
		t.Fatal("expected string hint to be rejected for a scalar type")
	}
}
