// Package planner turns a scanparams.Parameters plus a target data type
// into a MappedScanParameters the comparison kernels can execute directly,
// by running a registry of small rewrite rules over it.
package planner

import (
	"fmt"

	"github.com/scanforge/core/internal/datatype"
	"github.com/scanforge/core/internal/memory"
	"github.com/scanforge/core/internal/scanparams"
)

// Mapped is the fully resolved, kernel-ready form of a scan pass's
// parameters: the deanonymized comparison value(s) bound to a concrete
// DataType, plus whatever a Rule chose to rewrite along the way.
type Mapped struct {
	DataType    datatype.ID
	Alignment   memory.Alignment
	CompareType scanparams.CompareType
	Tolerance   scanparams.Tolerance
	ReadMode    scanparams.ReadMode

	CompareValue *datatype.Value
	DeltaValue   *datatype.Value
}

// Rule mutates a Mapped in place, e.g. binding an AnonymousValue to the
// target DataType, or substituting an equivalent CompareType the kernels
// implement more directly. Rules run in registration order; each must be
// safe to run after any rule ahead of it in the registry.
type Rule interface {
	Name() string
	MapParameters(m *Mapped, params scanparams.Parameters) error
}

// Planner runs a Parameters through a Rule registry to produce a Mapped.
type Planner struct {
	rules []Rule
}

// New constructs a Planner with the built-in rule set, in the order they
// must run: deanonymization before any rule that inspects CompareValue.
func New() *Planner {
	return &Planner{rules: []Rule{
		deanonymizeImmediateRule{},
		deanonymizeDeltaRule{},
		rewriteUnsignedGtZeroRule{},
	}}
}

// WithRule appends a caller-supplied rule to the registry, run after the
// built-ins.
func (p *Planner) WithRule(r Rule) *Planner {
	p.rules = append(p.rules, r)
	return p
}

// Plan validates params, then runs every registered rule over a fresh
// Mapped seeded with dataType/alignment.
func (p *Planner) Plan(params scanparams.Parameters, dataType datatype.ID, alignment memory.Alignment) (*Mapped, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	m := &Mapped{
		DataType:    dataType,
		Alignment:   alignment,
		CompareType: params.CompareType,
		Tolerance:   params.Tolerance,
		ReadMode:    params.ReadMode,
	}

	for _, rule := range p.rules {
		if err := rule.MapParameters(m, params); err != nil {
			return nil, fmt.Errorf("planner: rule %q: %w", rule.Name(), err)
		}
	}

	return m, nil
}

type deanonymizeImmediateRule struct{}

func (deanonymizeImmediateRule) Name() string { return "deanonymize-immediate" }

func (deanonymizeImmediateRule) MapParameters(m *Mapped, params scanparams.Parameters) error {
	if params.CompareImmediate == nil {
		return nil
	}
	v, err := params.CompareImmediate.Deanonymize(m.DataType)
	if err != nil {
		return err
	}
	m.CompareValue = &v
	return nil
}

// rewriteUnsignedGtZeroRule substitutes "not equal to zero" for "greater
// than zero" on unsigned discrete types. The two predicates select the
// same elements there, and the inequality form needs no ordered compare.
type rewriteUnsignedGtZeroRule struct{}

func (rewriteUnsignedGtZeroRule) Name() string { return "rewrite-unsigned-gt-zero" }

func (rewriteUnsignedGtZeroRule) MapParameters(m *Mapped, _ scanparams.Parameters) error {
	if m.CompareType != scanparams.GreaterThan || m.CompareValue == nil {
		return nil
	}
	dt, err := datatype.Lookup(m.DataType)
	if err != nil {
		return err
	}
	if dt.IsFloat || dt.IsSigned || dt.Container != datatype.ContainerScalar {
		return nil
	}
	for _, b := range m.CompareValue.Bytes {
		if b != 0 {
			return nil
		}
	}
	m.CompareType = scanparams.NotEqual
	return nil
}

type deanonymizeDeltaRule struct{}

func (deanonymizeDeltaRule) Name() string { return "deanonymize-delta" }

func (deanonymizeDeltaRule) MapParameters(m *Mapped, params scanparams.Parameters) error {
	if params.CompareDelta == nil {
		return nil
	}
	v, err := params.CompareDelta.Deanonymize(m.DataType)
	if err != nil {
		return err
	}
	m.DeltaValue = &v
	return nil
}
