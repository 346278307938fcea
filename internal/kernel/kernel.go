// Package kernel implements the element-wise comparison loops a scan pass
// runs over a snapshot region's current/previous byte buffers, plus the
// run-encoding that turns surviving elements into child filters.
package kernel

import (
	"fmt"

	"github.com/scanforge/core/internal/datatype"
	"github.com/scanforge/core/internal/planner"
)

// Run is a contiguous span of surviving byte offsets within one buffer,
// the unit a comparison kernel emits and filter.Filter is built from.
type Run struct {
	Offset uint64
	Length uint64
}

// Plan describes the vector width a kernel will process elements in, and
// whether a scalar tail replay is needed for the remainder. Only one
// vector-sized tail window is ever replayed, per the element count not
// dividing evenly into the chosen vector width.
type Plan struct {
	ElementSize     int
	VectorBytes     int
	ElementsPerStep int
	HasScalarTail   bool
}

// BuildPlan derives a Plan for scanning length bytes of elementSize-byte
// elements at the given vector width (see DetectVectorWidth).
func BuildPlan(elementSize, vectorBytes, length int) Plan {
	if elementSize <= 0 {
		elementSize = 1
	}
	if vectorBytes < elementSize {
		vectorBytes = elementSize
	}
	elementsPerStep := vectorBytes / elementSize
	if elementsPerStep < 1 {
		elementsPerStep = 1
	}
	totalElements := length / elementSize
	steppedElements := (totalElements / elementsPerStep) * elementsPerStep
	return Plan{
		ElementSize:     elementSize,
		VectorBytes:     elementsPerStep * elementSize,
		ElementsPerStep: elementsPerStep,
		HasScalarTail:   steppedElements < totalElements,
	}
}

// elementSizeFor resolves the byte width one element occupies for this
// scan: the type's fixed width, or the compare value's length for
// byte-array scans. A relative byte-array compare (Changed/Unchanged)
// carries no immediate; there the whole input span is the element, so the
// filter is compared against its previous bytes as one unit.
func elementSizeFor(dt datatype.DataType, mapped *planner.Mapped, limit int) int {
	if dt.Container == datatype.ContainerByteArray {
		if mapped.CompareValue != nil {
			return len(mapped.CompareValue.Bytes)
		}
		return limit
	}
	return dt.FixedSize
}

// Scan compares current against previous one element at a time, advancing
// by alignment, and returns the run-encoded surviving offsets. It selects
// the cheapest applicable path: a single-element evaluation when the input
// covers exactly one element slot, the plain scalar loop when the input is
// smaller than the host's vector width, and the vector-stepped loop
// otherwise.
func Scan(current, previous []byte, dt datatype.DataType, alignment int, mapped *planner.Mapped) []Run {
	limit := commonLimit(current, previous)
	elementSize := elementSizeFor(dt, mapped, limit)
	if elementSize <= 0 || limit < elementSize {
		return nil
	}
	if limit == elementSize {
		return ScanSingleElement(current, previous, dt, mapped)
	}
	vectorBytes := DetectVectorWidth()
	if limit < vectorBytes {
		return ScanScalar(current, previous, dt, alignment, mapped)
	}
	return ScanVector(current, previous, dt, alignment, mapped, vectorBytes)
}

// ScanSingleElement evaluates an input that holds exactly one element slot.
func ScanSingleElement(current, previous []byte, dt datatype.DataType, mapped *planner.Mapped) []Run {
	limit := commonLimit(current, previous)
	elementSize := elementSizeFor(dt, mapped, limit)
	if elementSize <= 0 || limit < elementSize {
		return nil
	}
	if evaluate(dt, current[:elementSize], previous[:elementSize], mapped) {
		return []Run{{Offset: 0, Length: uint64(elementSize)}}
	}
	return nil
}

// ScanScalar is the byte-by-byte reference kernel: every candidate start
// position is evaluated in order and surviving positions are run-encoded
// directly.
func ScanScalar(current, previous []byte, dt datatype.DataType, alignment int, mapped *planner.Mapped) []Run {
	if alignment <= 0 {
		alignment = 1
	}
	limit := commonLimit(current, previous)
	elementSize := elementSizeFor(dt, mapped, limit)
	if elementSize <= 0 {
		return nil
	}

	enc := runEncoder{elementSize: uint64(elementSize)}
	for offset := 0; offset+elementSize <= limit; offset += alignment {
		enc.observe(uint64(offset), evaluate(dt, current[offset:offset+elementSize], previous[offset:offset+elementSize], mapped))
	}
	return enc.finish(uint64(limit))
}

// ScanVector processes candidate positions in vector-width blocks, then
// replays the final vector-sized window with the scalar step to cover the
// remainder. Positions already covered by a full block are skipped during
// the replay, so no element is ever reported twice.
func ScanVector(current, previous []byte, dt datatype.DataType, alignment int, mapped *planner.Mapped, vectorBytes int) []Run {
	if alignment <= 0 {
		alignment = 1
	}
	limit := commonLimit(current, previous)
	elementSize := elementSizeFor(dt, mapped, limit)
	if elementSize <= 0 {
		return nil
	}
	if vectorBytes < alignment {
		vectorBytes = alignment
	}

	positionsPerVector := vectorBytes / alignment
	if positionsPerVector < 1 {
		positionsPerVector = 1
	}

	enc := runEncoder{elementSize: uint64(elementSize)}

	// Full vector iterations: blocks of positionsPerVector starting
	// positions, each position guaranteed a whole element within limit.
	offset := 0
	steppedEnd := 0
	for {
		blockEnd := offset + positionsPerVector*alignment
		lastStart := blockEnd - alignment
		if lastStart+elementSize > limit {
			break
		}
		for pos := offset; pos < blockEnd; pos += alignment {
			enc.observe(uint64(pos), evaluate(dt, current[pos:pos+elementSize], previous[pos:pos+elementSize], mapped))
		}
		offset = blockEnd
		steppedEnd = blockEnd
	}

	// Scalar tail: replay the last vector-sized window, skipping positions
	// the block loop already evaluated. When the rejected final block holds
	// candidate positions before limit-vectorBytes (alignment narrower than
	// the element width), the tail must start at steppedEnd or those
	// positions are covered by neither loop.
	tailStart := limit - vectorBytes
	if tailStart < 0 {
		tailStart = 0
	}
	tailStart -= tailStart % alignment
	if tailStart > steppedEnd {
		tailStart = steppedEnd
	}
	for pos := tailStart; pos+elementSize <= limit; pos += alignment {
		if pos < steppedEnd {
			continue
		}
		enc.observe(uint64(pos), evaluate(dt, current[pos:pos+elementSize], previous[pos:pos+elementSize], mapped))
	}

	return enc.finish(uint64(limit))
}

// Validate runs the scalar and vector kernels over the same input and
// fails if their run-encoded output differs in any way. Used by the
// orchestrator's debug validation mode, where a mismatch is a programmer
// invariant violation.
func Validate(current, previous []byte, dt datatype.DataType, alignment int, mapped *planner.Mapped, vectorBytes int) error {
	scalar := ScanScalar(current, previous, dt, alignment, mapped)
	vector := ScanVector(current, previous, dt, alignment, mapped, vectorBytes)
	if len(scalar) != len(vector) {
		return fmt.Errorf("kernel: validation mismatch: scalar produced %d runs, vector produced %d", len(scalar), len(vector))
	}
	for i := range scalar {
		if scalar[i] != vector[i] {
			return fmt.Errorf("kernel: validation mismatch at run %d: scalar %+v, vector %+v", i, scalar[i], vector[i])
		}
	}
	return nil
}

func commonLimit(current, previous []byte) int {
	limit := len(current)
	if len(previous) < limit {
		limit = len(previous)
	}
	return limit
}

// runEncoder coalesces consecutive matching positions into maximal runs. A
// run opens at a matching position whose predecessor did not match, and
// closes at the first non-matching position (or end of input).
type runEncoder struct {
	elementSize uint64
	runs        []Run
	runStart    uint64
	lastEnd     uint64
	inRun       bool
}

func (e *runEncoder) observe(offset uint64, match bool) {
	if match {
		if !e.inRun {
			e.runStart = offset
			e.inRun = true
		}
		e.lastEnd = offset + e.elementSize
		return
	}
	if e.inRun {
		e.runs = append(e.runs, Run{Offset: e.runStart, Length: e.lastEnd - e.runStart})
		e.inRun = false
	}
}

func (e *runEncoder) finish(limit uint64) []Run {
	if e.inRun {
		end := e.lastEnd
		if end > limit {
			end = limit
		}
		e.runs = append(e.runs, Run{Offset: e.runStart, Length: end - e.runStart})
		e.inRun = false
	}
	return e.runs
}
