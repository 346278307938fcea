package kernel

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/scanforge/core/internal/datatype"
	"github.com/scanforge/core/internal/planner"
	"github.com/scanforge/core/internal/scanparams"
)

func mapped(t *testing.T, id datatype.ID, compareType scanparams.CompareType, literal, delta string) *planner.Mapped {
	t.Helper()
	params := scanparams.Parameters{CompareType: compareType, Tolerance: scanparams.DefaultTolerance()}
	if literal != "" {
		v := datatype.NewAnonymousValue(literal)
		params.CompareImmediate = &v
	}
	if delta != "" {
		v := datatype.NewAnonymousValue(delta)
		params.CompareDelta = &v
	}
	m, err := planner.New().Plan(params, id, 4)
	if err != nil {
		t.Fatalf("unexpected planning error: %v", err)
	}
	return m
}

func encodeI32(n int32) []byte {
	return []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
}

func encodeU32s(ns ...uint32) []byte {
	out := make([]byte, 0, len(ns)*4)
	for _, n := range ns {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], n)
		out = append(out, b[:]...)
	}
	return out
}

func encodeI16s(ns ...int16) []byte {
	out := make([]byte, 0, len(ns)*2)
	for _, n := range ns {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(n))
		out = append(out, b[:]...)
	}
	return out
}

func encodeF32s(fs ...float32) []byte {
	out := make([]byte, 0, len(fs)*4)
	for _, f := range fs {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(f))
		out = append(out, b[:]...)
	}
	return out
}

func TestScanEqualFindsExactMatches(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.I32)
	m := mapped(t, datatype.I32, scanparams.Equal, "100", "")

	current := append(encodeI32(100), encodeI32(50)...)
	previous := make([]byte, len(current))

	runs := Scan(current, previous, dt, 4, m)
	if len(runs) != 1 || runs[0].Offset != 0 || runs[0].Length != 4 {
		t.Fatalf("got runs %+v", runs)
	}
}

func TestScanChangedDetectsDrift(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.I32)
	m := mapped(t, datatype.I32, scanparams.Changed, "", "")

	current := append(encodeI32(5), encodeI32(5)...)
	previous := append(encodeI32(5), encodeI32(6)...)

	runs := Scan(current, previous, dt, 4, m)
	if len(runs) != 1 || runs[0].Offset != 4 || runs[0].Length != 4 {
		t.Fatalf("got runs %+v, want a single run at offset 4", runs)
	}
}

// TestScanImmediateEqualitySplitsRuns mirrors a first-scan u32 == 42 over
// bytes [1, 42, 3, 42]: two separate single-element runs at offsets 4 and 12.
func TestScanImmediateEqualitySplitsRuns(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.U32)
	m := mapped(t, datatype.U32, scanparams.Equal, "42", "")

	current := encodeU32s(1, 42, 3, 42)
	previous := make([]byte, len(current))

	runs := ScanScalar(current, previous, dt, 4, m)
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2: %+v", len(runs), runs)
	}
	if runs[0].Offset != 4 || runs[0].Length != 4 || runs[1].Offset != 12 || runs[1].Length != 4 {
		t.Fatalf("got runs %+v", runs)
	}
}

// TestScanIncreasedAfterRecapture mirrors the relative-increase refinement:
// only the element whose value rose between captures survives.
func TestScanIncreasedAfterRecapture(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.U32)
	m := mapped(t, datatype.U32, scanparams.Increased, "", "")

	previous := encodeU32s(1, 42, 3, 42)
	current := encodeU32s(1, 42, 4, 41)

	runs := ScanScalar(current, previous, dt, 4, m)
	if len(runs) != 1 || runs[0].Offset != 8 || runs[0].Length != 4 {
		t.Fatalf("got runs %+v, want one run at offset 8", runs)
	}
}

// TestScanFloatToleranceCoalesces: 1.0 and 1.0003 both match Eq 1.0 at
// tolerance 1e-3, producing one run covering the full 8 bytes.
func TestScanFloatToleranceCoalesces(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.F32)
	m := mapped(t, datatype.F32, scanparams.Equal, "1.0", "")

	current := encodeF32s(1.000, 1.0003)
	previous := make([]byte, len(current))

	runs := ScanScalar(current, previous, dt, 4, m)
	if len(runs) != 1 || runs[0].Offset != 0 || runs[0].Length != 8 {
		t.Fatalf("got runs %+v, want one run covering all 8 bytes", runs)
	}
}

// TestScanDeltaIncreasedByX: previous [3,5,7,9], current [4,7,8,10] as i16,
// IncreasedByX 1 survives at offsets 0, 4 and 6; the last two coalesce into
// one run.
func TestScanDeltaIncreasedByX(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.I16)
	params := scanparams.Parameters{CompareType: scanparams.IncreasedByX, Tolerance: scanparams.DefaultTolerance()}
	v := datatype.NewAnonymousValue("1")
	params.CompareDelta = &v
	m, err := planner.New().Plan(params, datatype.I16, 2)
	if err != nil {
		t.Fatalf("planning: %v", err)
	}

	previous := encodeI16s(3, 5, 7, 9)
	current := encodeI16s(4, 7, 8, 10)

	runs := ScanScalar(current, previous, dt, 2, m)
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2: %+v", len(runs), runs)
	}
	if runs[0].Offset != 0 || runs[0].Length != 2 || runs[1].Offset != 4 || runs[1].Length != 4 {
		t.Fatalf("got runs %+v", runs)
	}
}

// TestScanDeltaWrapsAtWidth verifies the delta compare uses the type's
// native wrapping arithmetic: u8 255 -> 1 is an increase of 2.
func TestScanDeltaWrapsAtWidth(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.U8)
	params := scanparams.Parameters{CompareType: scanparams.IncreasedByX}
	v := datatype.NewAnonymousValue("2")
	params.CompareDelta = &v
	m, err := planner.New().Plan(params, datatype.U8, 1)
	if err != nil {
		t.Fatalf("planning: %v", err)
	}

	current := []byte{1, 10}
	previous := []byte{255, 9}

	runs := ScanScalar(current, previous, dt, 1, m)
	if len(runs) != 1 || runs[0].Offset != 0 || runs[0].Length != 1 {
		t.Fatalf("got runs %+v, want the wrapped element only", runs)
	}
}

// TestScanU64FullPrecision uses values beyond float64's 53-bit mantissa to
// make sure comparisons happen at native integer width.
func TestScanU64FullPrecision(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.U64)
	m := mapped(t, datatype.U64, scanparams.Equal, "18446744073709551615", "")

	current := make([]byte, 16)
	binary.LittleEndian.PutUint64(current[0:], math.MaxUint64)
	binary.LittleEndian.PutUint64(current[8:], math.MaxUint64-1)
	previous := make([]byte, 16)

	runs := ScanScalar(current, previous, dt, 8, m)
	if len(runs) != 1 || runs[0].Offset != 0 || runs[0].Length != 8 {
		t.Fatalf("got runs %+v: adjacent max values must not collapse", runs)
	}
}

func TestScanBigEndianDecoding(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.U32BE)
	m := mapped(t, datatype.U32BE, scanparams.Equal, "42", "")

	current := []byte{0, 0, 0, 42, 42, 0, 0, 0}
	previous := make([]byte, len(current))

	runs := ScanScalar(current, previous, dt, 4, m)
	if len(runs) != 1 || runs[0].Offset != 0 || runs[0].Length != 4 {
		t.Fatalf("got runs %+v, want only the big-endian encoding at offset 0", runs)
	}
}

// TestScanNaNLanesNeverMatch covers the defined NaN policy: a NaN in
// current or previous makes the lane non-matching for every compare type.
func TestScanNaNLanesNeverMatch(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.F32)
	nan := float32(math.NaN())

	current := encodeF32s(nan, 1.0)
	previous := encodeF32s(1.0, nan)

	for _, ct := range []scanparams.CompareType{
		scanparams.Changed, scanparams.Unchanged,
		scanparams.Increased, scanparams.Decreased,
	} {
		m := mapped(t, datatype.F32, ct, "", "")
		runs := ScanScalar(current, previous, dt, 4, m)
		if len(runs) != 0 {
			t.Fatalf("compare %v: got runs %+v, want none with NaN operands", ct, runs)
		}
	}

	m := mapped(t, datatype.F32, scanparams.Equal, "1.0", "")
	runs := ScanScalar(current, previous, dt, 4, m)
	// Only the second lane's current value is 1.0 and NaN-free on the side
	// Equal reads.
	if len(runs) != 1 || runs[0].Offset != 4 {
		t.Fatalf("Equal: got runs %+v", runs)
	}
}

func TestScanSingleElementPath(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.I32)
	m := mapped(t, datatype.I32, scanparams.Equal, "7", "")

	runs := Scan(encodeI32(7), make([]byte, 4), dt, 4, m)
	if len(runs) != 1 || runs[0].Offset != 0 || runs[0].Length != 4 {
		t.Fatalf("got runs %+v", runs)
	}
	if runs := Scan(encodeI32(8), make([]byte, 4), dt, 4, m); len(runs) != 0 {
		t.Fatalf("got runs %+v, want none", runs)
	}
}

// TestScalarVectorEquivalence is the scalar-vs-vector property: for every
// compare type and a mix of buffer lengths (vector-multiple, remainder,
// sub-vector), both kernels produce identical run lists.
func TestScalarVectorEquivalence(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.U32)

	// A deterministic pseudo-random pattern with plenty of equal runs.
	makeBuf := func(n int, seed uint32) []byte {
		vals := make([]uint32, n)
		state := seed
		for i := range vals {
			state = state*1664525 + 1013904223
			vals[i] = state % 5
		}
		return encodeU32s(vals...)
	}

	compareTypes := []struct {
		ct      scanparams.CompareType
		literal string
		delta   string
	}{
		{scanparams.Equal, "2", ""},
		{scanparams.NotEqual, "2", ""},
		{scanparams.GreaterThan, "1", ""},
		{scanparams.LessThanOrEqual, "3", ""},
		{scanparams.Changed, "", ""},
		{scanparams.Unchanged, "", ""},
		{scanparams.Increased, "", ""},
		{scanparams.Decreased, "", ""},
		{scanparams.IncreasedByX, "", "1"},
		{scanparams.DecreasedByX, "", "2"},
	}

	for _, elements := range []int{1, 3, 4, 16, 17, 31, 64, 100} {
		current := makeBuf(elements, 12345)
		previous := makeBuf(elements, 54321)
		for _, tc := range compareTypes {
			m := mapped(t, datatype.U32, tc.ct, tc.literal, tc.delta)
			for _, vectorBytes := range []int{16, 32, 64} {
				if err := Validate(current, previous, dt, 4, m, vectorBytes); err != nil {
					t.Fatalf("elements=%d compare=%v vector=%d: %v", elements, tc.ct, vectorBytes, err)
				}
			}
		}
	}
}

// TestScalarVectorEquivalenceUnalignedStride repeats the equivalence check
// with alignment narrower than the element width, where candidate starts
// overlap and the rejected final vector block can hold positions before
// limit-vectorBytes that only the tail replay reaches.
func TestScalarVectorEquivalenceUnalignedStride(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.U32)
	m := mapped(t, datatype.U32, scanparams.Equal, "0", "")

	for _, length := range []int{34, 35, 48, 50, 67} {
		current := make([]byte, length)
		for i := 20; i < 36 && i < length; i++ {
			current[i] = 1
		}
		previous := make([]byte, length)

		for _, vectorBytes := range []int{16, 32} {
			if err := Validate(current, previous, dt, 1, m, vectorBytes); err != nil {
				t.Fatalf("length=%d vector=%d: %v", length, vectorBytes, err)
			}
		}
	}
}

// TestScanVectorTailCoversRejectedBlock pins the boundary directly: u32 at
// alignment 1 over 34 bytes with a 16-byte step leaves candidate starts 16
// and 17 outside the full blocks, and the tail replay must still evaluate
// them.
func TestScanVectorTailCoversRejectedBlock(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.U32)
	m := mapped(t, datatype.U32, scanparams.Equal, "0", "")

	current := make([]byte, 34)
	for i := 0; i < 16; i++ {
		current[i] = 1
	}
	// Offsets 16..33 are zero, so starts 16..30 match: the surviving run
	// begins exactly in the band between the last full block and
	// limit-vectorBytes.
	previous := make([]byte, 34)

	scalar := ScanScalar(current, previous, dt, 1, m)
	vector := ScanVector(current, previous, dt, 1, m, 16)
	if len(scalar) != len(vector) {
		t.Fatalf("scalar %d runs, vector %d runs", len(scalar), len(vector))
	}
	for i := range scalar {
		if scalar[i] != vector[i] {
			t.Fatalf("run %d: scalar %+v, vector %+v", i, scalar[i], vector[i])
		}
	}
}

// TestScanByteArrayRelative: a byte-array compare with no immediate
// (Changed/Unchanged) treats the whole input span as one element, comparing
// the filter's bytes against their previous capture as a unit.
func TestScanByteArrayRelative(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.Bytes)

	current := []byte{0xde, 0xad, 0xbe, 0xef, 0x01}
	previous := []byte{0xde, 0xad, 0xbe, 0xef, 0x02}

	m := mapped(t, datatype.Bytes, scanparams.Changed, "", "")
	runs := Scan(current, previous, dt, 1, m)
	if len(runs) != 1 || runs[0].Offset != 0 || runs[0].Length != uint64(len(current)) {
		t.Fatalf("Changed: got runs %+v, want one full-span run", runs)
	}

	m = mapped(t, datatype.Bytes, scanparams.Unchanged, "", "")
	if runs := Scan(current, previous, dt, 1, m); len(runs) != 0 {
		t.Fatalf("Unchanged: got runs %+v, want none for differing spans", runs)
	}
	same := append([]byte(nil), current...)
	if runs := Scan(current, same, dt, 1, m); len(runs) != 1 {
		t.Fatalf("Unchanged: got runs %+v, want one full-span run for identical spans", runs)
	}
}

func TestRunEncodingCoalescesAllMatch(t *testing.T) {
	dt, _ := datatype.Lookup(datatype.U32)
	m := mapped(t, datatype.U32, scanparams.Unchanged, "", "")

	buf := encodeU32s(9, 9, 9, 9)
	runs := ScanScalar(buf, append([]byte(nil), buf...), dt, 4, m)
	if len(runs) != 1 || runs[0].Offset != 0 || runs[0].Length != 16 {
		t.Fatalf("got runs %+v, want one run covering the whole input", runs)
	}
}

func TestBuildPlanScalarTail(t *testing.T) {
	plan := BuildPlan(4, 16, 20)
	if plan.ElementsPerStep != 4 {
		t.Fatalf("got elements per step %d, want 4", plan.ElementsPerStep)
	}
	if !plan.HasScalarTail {
		t.Fatal("expected a scalar tail for 20 bytes of 4-byte elements at a 16-byte step")
	}
}

func TestBuildPlanNoScalarTail(t *testing.T) {
	plan := BuildPlan(4, 16, 16)
	if plan.HasScalarTail {
		t.Fatal("expected no scalar tail when length divides the step evenly")
	}
}

func TestDetectVectorWidthPositive(t *testing.T) {
	if DetectVectorWidth() <= 0 {
		t.Fatal("expected a positive vector width")
	}
}
