package datatype

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a typed, already-encoded scan value: the raw bytes (in the
// type's declared byte order) a comparison kernel reads directly off a
// snapshot buffer.
type Value struct {
	Type  ID
	Bytes []byte
}

// Clone returns a deep copy of the value.
func (v Value) Clone() Value {
	return Value{Type: v.Type, Bytes: append([]byte(nil), v.Bytes...)}
}

// FormatHint tells the deanonymizer how to interpret a literal whose type
// has not been chosen yet.
type FormatHint int

const (
	// HintDecimal parses the literal as base-10 (the default).
	HintDecimal FormatHint = iota
	// HintHex parses the literal as base-16, with or without a 0x prefix.
	HintHex
	// HintBinary parses the literal as base-2, with or without a 0b prefix.
	HintBinary
	// HintString takes the literal's UTF-8 bytes verbatim.
	HintString
)

// AnonymousValue is a user- or caller-supplied value that has not yet been
// bound to a concrete DataType — e.g. the literal "100" typed into a scan
// input box, which must be deanonymized against whatever data type the scan
// is currently configured for before it can be compared.
type AnonymousValue struct {
	Literal string
	Hint    FormatHint
}

// NewAnonymousValue wraps a literal string for later deanonymization,
// defaulting to decimal interpretation.
func NewAnonymousValue(literal string) AnonymousValue {
	return AnonymousValue{Literal: strings.TrimSpace(literal)}
}

// NewAnonymousValueHinted wraps a literal string with an explicit format
// hint.
func NewAnonymousValueHinted(literal string, hint FormatHint) AnonymousValue {
	return AnonymousValue{Literal: strings.TrimSpace(literal), Hint: hint}
}

// Deanonymize encodes the literal as a Value of the given type.
func (a AnonymousValue) Deanonymize(id ID) (Value, error) {
	dt, err := Lookup(id)
	if err != nil {
		return Value{}, err
	}
	if a.Literal == "" {
		return Value{}, fmt.Errorf("datatype: empty literal cannot be deanonymized to %q", id)
	}

	switch dt.Container {
	case ContainerByteArray:
		if dt.ID == Str || a.Hint == HintString {
			return Value{Type: dt.ID, Bytes: []byte(a.Literal)}, nil
		}
		return a.deanonymizeByteArray()
	default:
		if a.Hint == HintString {
			return Value{}, fmt.Errorf("datatype: string hint is unsupported for scalar type %q", id)
		}
		return a.deanonymizeScalar(dt)
	}
}

func (a AnonymousValue) deanonymizeByteArray() (Value, error) {
	// Byte arrays are spelled as whitespace-separated per-byte literals,
	// hex unless a binary hint says otherwise.
	base := 16
	if a.Hint == HintBinary {
		base = 2
	}
	fields := strings.Fields(a.Literal)
	out := make([]byte, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseUint(f, base, 8)
		if err != nil {
			return Value{}, fmt.Errorf("datatype: invalid byte literal %q: %w", f, err)
		}
		out[i] = byte(n)
	}
	return Value{Type: Bytes, Bytes: out}, nil
}

func (a AnonymousValue) integerBase() (base int, literal string) {
	literal = a.Literal
	switch a.Hint {
	case HintHex:
		return 16, strings.TrimPrefix(strings.TrimPrefix(literal, "0x"), "0X")
	case HintBinary:
		return 2, strings.TrimPrefix(strings.TrimPrefix(literal, "0b"), "0B")
	default:
		return 10, literal
	}
}

func (a AnonymousValue) deanonymizeScalar(dt DataType) (Value, error) {
	buf := make([]byte, dt.FixedSize)
	order := byteOrder(dt)

	if dt.IsFloat {
		if a.Hint != HintDecimal {
			return Value{}, fmt.Errorf("datatype: format hint is unsupported for float type %q", dt.ID)
		}
		f, err := strconv.ParseFloat(a.Literal, 64)
		if err != nil {
			return Value{}, fmt.Errorf("datatype: invalid float literal %q: %w", a.Literal, err)
		}
		switch dt.FixedSize {
		case 4:
			order.PutUint32(buf, math.Float32bits(float32(f)))
		case 8:
			order.PutUint64(buf, math.Float64bits(f))
		default:
			return Value{}, fmt.Errorf("datatype: unsupported float width %d", dt.FixedSize)
		}
		return Value{Type: dt.ID, Bytes: buf}, nil
	}

	base, literal := a.integerBase()

	if dt.IsSigned {
		// Hex and binary literals are raw bit patterns, so they parse
		// unsigned regardless of the type's signedness.
		if base != 10 {
			n, err := strconv.ParseUint(literal, base, dt.FixedSize*8)
			if err != nil {
				return Value{}, fmt.Errorf("datatype: invalid integer literal %q: %w", a.Literal, err)
			}
			putUint(buf, order, n)
			return Value{Type: dt.ID, Bytes: buf}, nil
		}
		n, err := strconv.ParseInt(literal, base, dt.FixedSize*8)
		if err != nil {
			return Value{}, fmt.Errorf("datatype: invalid integer literal %q: %w", a.Literal, err)
		}
		putUint(buf, order, uint64(n))
		return Value{Type: dt.ID, Bytes: buf}, nil
	}

	if dt.ID == Bool8 || dt.ID == Bool32 {
		switch strings.ToLower(literal) {
		case "true":
			literal = "1"
		case "false":
			literal = "0"
		}
	}

	n, err := strconv.ParseUint(literal, base, dt.FixedSize*8)
	if err != nil {
		return Value{}, fmt.Errorf("datatype: invalid unsigned literal %q: %w", a.Literal, err)
	}
	putUint(buf, order, n)
	return Value{Type: dt.ID, Bytes: buf}, nil
}

func byteOrder(dt DataType) binary.ByteOrder {
	if dt.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func putUint(buf []byte, order binary.ByteOrder, n uint64) {
	switch len(buf) {
	case 1:
		buf[0] = byte(n)
	case 2:
		order.PutUint16(buf, uint16(n))
	case 4:
		order.PutUint32(buf, uint32(n))
	case 8:
		order.PutUint64(buf, n)
	}
}

func readUint(buf []byte, order binary.ByteOrder) uint64 {
	switch len(buf) {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(order.Uint16(buf))
	case 4:
		return uint64(order.Uint32(buf))
	case 8:
		return order.Uint64(buf)
	}
	return 0
}
