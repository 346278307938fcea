package datatype

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DisplayFormat selects how a Value renders as text.
type DisplayFormat int

const (
	// DisplayDecimal renders the value in its natural base-10 form.
	DisplayDecimal DisplayFormat = iota
	// DisplayHex renders the raw payload as zero-padded hexadecimal.
	DisplayHex
	// DisplayBinary renders the raw payload as zero-padded binary.
	DisplayBinary
	// DisplayAddress renders the value as a 0x-prefixed 64-bit address.
	DisplayAddress
)

// InvalidByteCountError reports a Value whose payload length does not match
// its type's fixed width.
type InvalidByteCountError struct {
	Type     ID
	Expected int
	Actual   int
}

func (e *InvalidByteCountError) Error() string {
	return fmt.Sprintf("datatype: %q expects %d bytes, got %d", e.Type, e.Expected, e.Actual)
}

// Render formats the value per format. Scalar payloads whose length does
// not equal the type's width fail with InvalidByteCountError.
func (v Value) Render(format DisplayFormat) (string, error) {
	dt, err := Lookup(v.Type)
	if err != nil {
		return "", err
	}

	if dt.Container == ContainerByteArray {
		return renderBytes(v.Bytes, dt, format), nil
	}

	if len(v.Bytes) != dt.FixedSize {
		return "", &InvalidByteCountError{Type: v.Type, Expected: dt.FixedSize, Actual: len(v.Bytes)}
	}

	bits := readUint(v.Bytes, byteOrder(dt))

	switch format {
	case DisplayHex:
		return fmt.Sprintf("%0*x", dt.FixedSize*2, bits), nil
	case DisplayBinary:
		return fmt.Sprintf("%0*b", dt.FixedSize*8, bits), nil
	case DisplayAddress:
		return fmt.Sprintf("0x%016x", bits), nil
	default:
		return renderDecimal(dt, bits), nil
	}
}

func renderDecimal(dt DataType, bits uint64) string {
	if dt.IsFloat {
		switch dt.FixedSize {
		case 4:
			return strconv.FormatFloat(float64(math.Float32frombits(uint32(bits))), 'g', -1, 32)
		default:
			return strconv.FormatFloat(math.Float64frombits(bits), 'g', -1, 64)
		}
	}
	if dt.ID == Bool8 || dt.ID == Bool32 {
		if bits != 0 {
			return "true"
		}
		return "false"
	}
	if dt.IsSigned {
		return strconv.FormatInt(signExtend(bits, dt.FixedSize), 10)
	}
	return strconv.FormatUint(bits, 10)
}

func renderBytes(raw []byte, dt DataType, format DisplayFormat) string {
	if dt.ID == Str && format == DisplayDecimal {
		return string(raw)
	}
	var sb strings.Builder
	for i, b := range raw {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if format == DisplayBinary {
			fmt.Fprintf(&sb, "%08b", b)
		} else {
			fmt.Fprintf(&sb, "%02x", b)
		}
	}
	return sb.String()
}

// signExtend reinterprets the low width bytes of bits as a two's-complement
// signed integer.
func signExtend(bits uint64, width int) int64 {
	shift := uint(64 - width*8)
	return int64(bits<<shift) >> shift
}

// Decode parses a rendered string back into a Value of the given type, the
// inverse of Render for the same format.
func Decode(id ID, text string, format DisplayFormat) (Value, error) {
	hint := HintDecimal
	switch format {
	case DisplayHex, DisplayAddress:
		hint = HintHex
	case DisplayBinary:
		hint = HintBinary
	}
	dt, err := Lookup(id)
	if err != nil {
		return Value{}, err
	}
	if dt.Container == ContainerByteArray && dt.ID == Str && format == DisplayDecimal {
		return Value{Type: id, Bytes: []byte(text)}, nil
	}
	anon := NewAnonymousValueHinted(strings.TrimPrefix(text, "0x"), hint)
	if dt.Container == ContainerByteArray {
		// Every other byte-array rendering, strings included, is
		// space-separated per-byte literals.
		v, err := anon.deanonymizeByteArray()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: id, Bytes: v.Bytes}, nil
	}
	if dt.IsFloat && hint != HintDecimal {
		// Hex, binary and address renderings of a float are its raw bits.
		base, literal := anon.integerBase()
		n, err := strconv.ParseUint(literal, base, dt.FixedSize*8)
		if err != nil {
			return Value{}, fmt.Errorf("datatype: invalid float bit pattern %q: %w", text, err)
		}
		buf := make([]byte, dt.FixedSize)
		putUint(buf, byteOrder(dt), n)
		return Value{Type: id, Bytes: buf}, nil
	}
	return anon.Deanonymize(id)
}
