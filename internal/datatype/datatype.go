// Package datatype defines the set of primitive and composite data types the
// scan core understands, and the registry used to look them up by id.
package datatype

import "fmt"

// ID identifies a registered data type by its canonical short name.
type ID string

const (
	I8  ID = "i8"
	I16 ID = "i16"
	I32 ID = "i32"
	I64 ID = "i64"
	U8  ID = "u8"
	U16 ID = "u16"
	U32 ID = "u32"
	U64 ID = "u64"
	F32 ID = "f32"
	F64 ID = "f64"

	// Big-endian variants for targets whose memory layout does not match
	// the scanning host.
	I16BE ID = "i16be"
	I32BE ID = "i32be"
	I64BE ID = "i64be"
	U16BE ID = "u16be"
	U32BE ID = "u32be"
	U64BE ID = "u64be"
	F32BE ID = "f32be"
	F64BE ID = "f64be"

	// Bool8 and Bool32 compare as unsigned integers; any non-zero payload
	// is "true".
	Bool8  ID = "bool8"
	Bool32 ID = "bool32"

	Str   ID = "string-utf8"
	Bytes ID = "bytearray"
	Bitf  ID = "bitfield"
)

// Container describes the structural shape a DataType's values take.
type Container int

const (
	// ContainerScalar is a single fixed-width numeric value.
	ContainerScalar Container = iota
	// ContainerByteArray is a variable-length run of raw bytes, compared
	// byte-for-byte.
	ContainerByteArray
	// ContainerBitfield is a fixed-width integer compared bit by bit.
	ContainerBitfield
)

// DataType describes one entry in the registry: its wire size, its
// container shape, its byte order, and whether it is a floating-point type
// (which changes comparison semantics under a FloatingPointTolerance).
type DataType struct {
	ID        ID
	Container Container
	// FixedSize is the size in bytes of one element for scalar and
	// bitfield types. It is ignored for ContainerByteArray, whose size is
	// supplied per value.
	FixedSize int
	IsFloat   bool
	IsSigned  bool
	BigEndian bool
}

// IsDiscrete reports whether the type compares under exact integer
// semantics rather than a floating-point tolerance.
func (dt DataType) IsDiscrete() bool { return !dt.IsFloat }

var registry = map[ID]DataType{
	I8:  {ID: I8, Container: ContainerScalar, FixedSize: 1, IsSigned: true},
	I16: {ID: I16, Container: ContainerScalar, FixedSize: 2, IsSigned: true},
	I32: {ID: I32, Container: ContainerScalar, FixedSize: 4, IsSigned: true},
	I64: {ID: I64, Container: ContainerScalar, FixedSize: 8, IsSigned: true},
	U8:  {ID: U8, Container: ContainerScalar, FixedSize: 1},
	U16: {ID: U16, Container: ContainerScalar, FixedSize: 2},
	U32: {ID: U32, Container: ContainerScalar, FixedSize: 4},
	U64: {ID: U64, Container: ContainerScalar, FixedSize: 8},
	F32: {ID: F32, Container: ContainerScalar, FixedSize: 4, IsFloat: true, IsSigned: true},
	F64: {ID: F64, Container: ContainerScalar, FixedSize: 8, IsFloat: true, IsSigned: true},

	I16BE: {ID: I16BE, Container: ContainerScalar, FixedSize: 2, IsSigned: true, BigEndian: true},
	I32BE: {ID: I32BE, Container: ContainerScalar, FixedSize: 4, IsSigned: true, BigEndian: true},
	I64BE: {ID: I64BE, Container: ContainerScalar, FixedSize: 8, IsSigned: true, BigEndian: true},
	U16BE: {ID: U16BE, Container: ContainerScalar, FixedSize: 2, BigEndian: true},
	U32BE: {ID: U32BE, Container: ContainerScalar, FixedSize: 4, BigEndian: true},
	U64BE: {ID: U64BE, Container: ContainerScalar, FixedSize: 8, BigEndian: true},
	F32BE: {ID: F32BE, Container: ContainerScalar, FixedSize: 4, IsFloat: true, IsSigned: true, BigEndian: true},
	F64BE: {ID: F64BE, Container: ContainerScalar, FixedSize: 8, IsFloat: true, IsSigned: true, BigEndian: true},

	Bool8:  {ID: Bool8, Container: ContainerScalar, FixedSize: 1},
	Bool32: {ID: Bool32, Container: ContainerScalar, FixedSize: 4},

	Str:   {ID: Str, Container: ContainerByteArray},
	Bytes: {ID: Bytes, Container: ContainerByteArray},
	Bitf:  {ID: Bitf, Container: ContainerBitfield, FixedSize: 4},
}

// Lookup returns the registered DataType for id, or an error if id is not
// registered.
func Lookup(id ID) (DataType, error) {
	dt, ok := registry[id]
	if !ok {
		return DataType{}, fmt.Errorf("datatype: unknown id %q", id)
	}
	return dt, nil
}

// Register adds or replaces a registry entry. Intended for callers that
// extend the registry with application-specific composite types (e.g. a
// packed struct layout); built-in ids may be overridden but doing so is
// discouraged.
func Register(dt DataType) {
	registry[dt.ID] = dt
}

// SizeOf returns the size in bytes one value of id occupies, given an
// explicit length for variable-length containers (ignored for fixed-size
// types).
func SizeOf(id ID, length int) (int, error) {
	dt, err := Lookup(id)
	if err != nil {
		return 0, err
	}
	if dt.Container == ContainerByteArray {
		if length < 0 {
			return 0, fmt.Errorf("datatype: negative length for %q", id)
		}
		return length, nil
	}
	return dt.FixedSize, nil
}
