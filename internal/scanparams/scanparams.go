// Package scanparams defines the compare type and parameter set a scan
// pass is configured with, including the short-form constraint syntax
// ("==", "+x", ...) callers use to name a comparison.
package scanparams

import (
	"fmt"

	"github.com/scanforge/core/internal/datatype"
	"github.com/scanforge/core/internal/memory"
)

// CompareType is the comparison a scan pass applies to each candidate
// element.
type CompareType int

const (
	Equal CompareType = iota
	NotEqual
	Changed
	Unchanged
	Increased
	Decreased
	IncreasedByX
	DecreasedByX
	GreaterThan
	GreaterThanOrEqual
	LessThan
	LessThanOrEqual
)

var shortForms = map[string]CompareType{
	"==": Equal,
	"!=": NotEqual,
	"c":  Changed,
	"u":  Unchanged,
	"+":  Increased,
	"-":  Decreased,
	"+x": IncreasedByX,
	"-x": DecreasedByX,
	">":  GreaterThan,
	">=": GreaterThanOrEqual,
	"<":  LessThan,
	"<=": LessThanOrEqual,
}

// ParseCompareType parses the short-form constraint syntax (e.g. "==",
// "+x") into a CompareType.
func ParseCompareType(s string) (CompareType, error) {
	ct, ok := shortForms[s]
	if !ok {
		return 0, fmt.Errorf("scanparams: invalid compare type %q", s)
	}
	return ct, nil
}

// String returns the short-form constraint syntax for c, the inverse of
// ParseCompareType.
func (c CompareType) String() string {
	for s, ct := range shortForms {
		if ct == c {
			return s
		}
	}
	return fmt.Sprintf("compare(%d)", int(c))
}

// Kind classifies a CompareType by what it needs to evaluate: a caller
// immediate, the previous snapshot value, or neither (a delta magnitude
// instead).
type Kind int

const (
	KindImmediate Kind = iota
	KindRelative
	KindDelta
)

// Kind returns the classification this CompareType's parameters must
// satisfy validation against.
func (c CompareType) Kind() Kind {
	switch c {
	case Equal, NotEqual, GreaterThan, GreaterThanOrEqual, LessThan, LessThanOrEqual:
		return KindImmediate
	case Changed, Unchanged, Increased, Decreased:
		return KindRelative
	case IncreasedByX, DecreasedByX:
		return KindDelta
	default:
		return KindImmediate
	}
}

// Tolerance selects how much floating-point values may differ and still be
// considered equal.
type Tolerance int

const (
	ToleranceExact Tolerance = iota
	Tolerance10E1
	Tolerance10E2
	Tolerance10E3
	Tolerance10E4
	Tolerance10E5
)

// DefaultTolerance is Tolerance10E3 (0.001), a forgiving-enough epsilon
// for single-precision values without matching unrelated ones.
func DefaultTolerance() Tolerance { return Tolerance10E3 }

var toleranceNames = map[string]Tolerance{
	"exact": ToleranceExact,
	"1e-1":  Tolerance10E1,
	"1e-2":  Tolerance10E2,
	"1e-3":  Tolerance10E3,
	"1e-4":  Tolerance10E4,
	"1e-5":  Tolerance10E5,
}

// ParseTolerance parses the persisted-settings spelling of a Tolerance.
func ParseTolerance(s string) (Tolerance, error) {
	t, ok := toleranceNames[s]
	if !ok {
		return 0, fmt.Errorf("scanparams: invalid tolerance %q", s)
	}
	return t, nil
}

// Float64 returns the epsilon value a Tolerance represents.
func (t Tolerance) Float64() float64 {
	switch t {
	case ToleranceExact:
		return 0
	case Tolerance10E1:
		return 0.1
	case Tolerance10E2:
		return 0.01
	case Tolerance10E3:
		return 0.001
	case Tolerance10E4:
		return 0.0001
	case Tolerance10E5:
		return 0.00001
	default:
		return 0.001
	}
}

// ReadMode controls when a scan pass refreshes the snapshot's bytes
// relative to evaluating the comparison.
type ReadMode int

const (
	// ReadBeforeScan refreshes every region, then compares. The default.
	ReadBeforeScan ReadMode = iota
	// ReadSkip compares the buffers as they already are, without reading
	// the target at all.
	ReadSkip
	// ReadInterleaved refreshes each region's bytes immediately before its
	// filters are compared, best-effort: a failed refresh drops that
	// region's filters rather than comparing stale bytes.
	ReadInterleaved
)

var readModeNames = map[string]ReadMode{
	"read_before_scan": ReadBeforeScan,
	"skip":             ReadSkip,
	"read_interleaved": ReadInterleaved,
}

// ParseReadMode parses the persisted-settings spelling of a ReadMode.
func ParseReadMode(s string) (ReadMode, error) {
	rm, ok := readModeNames[s]
	if !ok {
		return 0, fmt.Errorf("scanparams: invalid read mode %q", s)
	}
	return rm, nil
}

// Parameters configures one scan pass.
type Parameters struct {
	CompareType      CompareType
	CompareImmediate *datatype.AnonymousValue
	CompareDelta     *datatype.AnonymousValue
	Tolerance        Tolerance
	ReadMode         ReadMode
	Alignment        memory.Alignment
}

// Validate enforces that the supplied immediate/delta values match what
// CompareType.Kind() requires: an immediate-kind compare must carry a
// compare value, a relative-kind compare must not, and a delta-kind
// compare must carry a delta magnitude.
func (p Parameters) Validate() error {
	switch p.CompareType.Kind() {
	case KindImmediate:
		if p.CompareImmediate == nil {
			return fmt.Errorf("scanparams: compare type requires an immediate value")
		}
	case KindRelative:
		if p.CompareImmediate != nil {
			return fmt.Errorf("scanparams: relative compare type must not carry an immediate value")
		}
	case KindDelta:
		if p.CompareDelta == nil {
			return fmt.Errorf("scanparams: delta compare type requires a delta magnitude")
		}
	}
	return nil
}
