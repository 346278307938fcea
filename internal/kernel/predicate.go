package kernel

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/scanforge/core/internal/datatype"
	"github.com/scanforge/core/internal/planner"
	"github.com/scanforge/core/internal/scanparams"
)

// evaluate applies mapped.CompareType to one element's current/previous
// bytes and returns whether the element survives.
func evaluate(dt datatype.DataType, current, previous []byte, mapped *planner.Mapped) bool {
	if dt.Container == datatype.ContainerByteArray {
		return evaluateByteArray(current, previous, mapped)
	}
	if dt.IsFloat {
		return evaluateFloat(dt, current, previous, mapped)
	}
	return evaluateInteger(dt, current, previous, mapped)
}

// evaluateFloat compares under the configured tolerance. A NaN in any
// operand the predicate reads makes the lane non-matching, for every
// compare type.
func evaluateFloat(dt datatype.DataType, current, previous []byte, mapped *planner.Mapped) bool {
	cur := decodeFloat(dt, current)
	if math.IsNaN(cur) {
		return false
	}
	tol := mapped.Tolerance.Float64()

	switch mapped.CompareType {
	case scanparams.Equal, scanparams.NotEqual,
		scanparams.GreaterThan, scanparams.GreaterThanOrEqual,
		scanparams.LessThan, scanparams.LessThanOrEqual:
		imm := decodeFloat(dt, immediateBytes(mapped.CompareValue))
		if math.IsNaN(imm) {
			return false
		}
		switch mapped.CompareType {
		case scanparams.Equal:
			return math.Abs(cur-imm) <= tol
		case scanparams.NotEqual:
			return math.Abs(cur-imm) > tol
		case scanparams.GreaterThan:
			return cur > imm
		case scanparams.GreaterThanOrEqual:
			return cur >= imm
		case scanparams.LessThan:
			return cur < imm
		default:
			return cur <= imm
		}

	case scanparams.Changed, scanparams.Unchanged,
		scanparams.Increased, scanparams.Decreased:
		prev := decodeFloat(dt, previous)
		if math.IsNaN(prev) {
			return false
		}
		switch mapped.CompareType {
		case scanparams.Changed:
			return math.Abs(cur-prev) > tol
		case scanparams.Unchanged:
			return math.Abs(cur-prev) <= tol
		case scanparams.Increased:
			return cur > prev
		default:
			return cur < prev
		}

	case scanparams.IncreasedByX, scanparams.DecreasedByX:
		prev := decodeFloat(dt, previous)
		delta := decodeFloat(dt, immediateBytes(mapped.DeltaValue))
		if math.IsNaN(prev) || math.IsNaN(delta) {
			return false
		}
		if mapped.CompareType == scanparams.IncreasedByX {
			return math.Abs((cur-prev)-delta) <= tol
		}
		return math.Abs((prev-cur)-delta) <= tol

	default:
		return false
	}
}

// evaluateInteger compares raw bits at the type's native width. Delta
// compares wrap at the width boundary exactly as the target's own
// arithmetic would.
func evaluateInteger(dt datatype.DataType, current, previous []byte, mapped *planner.Mapped) bool {
	cur := decodeBits(dt, current)
	mask := widthMask(dt.FixedSize)

	switch mapped.CompareType {
	case scanparams.Equal:
		return cur == decodeBits(dt, immediateBytes(mapped.CompareValue))
	case scanparams.NotEqual:
		return cur != decodeBits(dt, immediateBytes(mapped.CompareValue))
	case scanparams.GreaterThan, scanparams.GreaterThanOrEqual,
		scanparams.LessThan, scanparams.LessThanOrEqual:
		imm := decodeBits(dt, immediateBytes(mapped.CompareValue))
		return orderedCompare(dt, cur, imm, mapped.CompareType)

	case scanparams.Changed:
		return cur != decodeBits(dt, previous)
	case scanparams.Unchanged:
		return cur == decodeBits(dt, previous)
	case scanparams.Increased:
		return orderedCompare(dt, cur, decodeBits(dt, previous), scanparams.GreaterThan)
	case scanparams.Decreased:
		return orderedCompare(dt, cur, decodeBits(dt, previous), scanparams.LessThan)

	case scanparams.IncreasedByX:
		prev := decodeBits(dt, previous)
		delta := decodeBits(dt, immediateBytes(mapped.DeltaValue))
		return (cur-prev)&mask == delta&mask
	case scanparams.DecreasedByX:
		prev := decodeBits(dt, previous)
		delta := decodeBits(dt, immediateBytes(mapped.DeltaValue))
		return (prev-cur)&mask == delta&mask

	default:
		return false
	}
}

func orderedCompare(dt datatype.DataType, a, b uint64, op scanparams.CompareType) bool {
	if dt.IsSigned {
		sa, sb := signExtend(a, dt.FixedSize), signExtend(b, dt.FixedSize)
		switch op {
		case scanparams.GreaterThan:
			return sa > sb
		case scanparams.GreaterThanOrEqual:
			return sa >= sb
		case scanparams.LessThan:
			return sa < sb
		default:
			return sa <= sb
		}
	}
	switch op {
	case scanparams.GreaterThan:
		return a > b
	case scanparams.GreaterThanOrEqual:
		return a >= b
	case scanparams.LessThan:
		return a < b
	default:
		return a <= b
	}
}

func evaluateByteArray(current, previous []byte, mapped *planner.Mapped) bool {
	switch mapped.CompareType {
	case scanparams.Equal:
		if mapped.CompareValue == nil {
			return false
		}
		return bytes.Equal(current, mapped.CompareValue.Bytes)
	case scanparams.NotEqual:
		if mapped.CompareValue == nil {
			return false
		}
		return !bytes.Equal(current, mapped.CompareValue.Bytes)
	case scanparams.Changed:
		return !bytes.Equal(current, previous)
	case scanparams.Unchanged:
		return bytes.Equal(current, previous)
	default:
		return false
	}
}

func immediateBytes(v *datatype.Value) []byte {
	if v == nil {
		return nil
	}
	return v.Bytes
}

func byteOrder(dt datatype.DataType) binary.ByteOrder {
	if dt.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// decodeBits reads one element's raw payload zero-extended to 64 bits, in
// the type's declared byte order.
func decodeBits(dt datatype.DataType, raw []byte) uint64 {
	if len(raw) < dt.FixedSize {
		return 0
	}
	order := byteOrder(dt)
	switch dt.FixedSize {
	case 1:
		return uint64(raw[0])
	case 2:
		return uint64(order.Uint16(raw))
	case 4:
		return uint64(order.Uint32(raw))
	case 8:
		return order.Uint64(raw)
	}
	return 0
}

func decodeFloat(dt datatype.DataType, raw []byte) float64 {
	if len(raw) < dt.FixedSize {
		return math.NaN()
	}
	order := byteOrder(dt)
	switch dt.FixedSize {
	case 4:
		return float64(math.Float32frombits(order.Uint32(raw)))
	case 8:
		return math.Float64frombits(order.Uint64(raw))
	}
	return math.NaN()
}

func widthMask(width int) uint64 {
	if width >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (uint(width) * 8)) - 1
}

func signExtend(bits uint64, width int) int64 {
	shift := uint(64 - width*8)
	return int64(bits<<shift) >> shift
}
