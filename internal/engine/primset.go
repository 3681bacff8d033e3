package engine

import (
	"context"
	"sort"

	"github.com/roach88/reduce/internal/ir"
)

// Step is one primitive. It works on rc and hands it back through yield
// as often as it likes; each yield is a point where the control loop may
// service requests or pause. yield returns false when the caller wants no
// more snapshots, and the step should then return promptly.
type Step func(ctx context.Context, rc *ReductionContext, yield func(*ReductionContext) bool) error

// PrimitiveSet is a named collection of steps for one astrotype, together
// with the parameter declarations of those steps.
type PrimitiveSet struct {
	Name      string
	AstroType string
	Kind      ir.PrimSetKind
	Params    ir.ParamTable

	steps map[string]Step
}

// NewPrimitiveSet creates an empty set of kind PRIMITIVES.
func NewPrimitiveSet(name, astrotype string) *PrimitiveSet {
	return &PrimitiveSet{
		Name:      name,
		AstroType: astrotype,
		Kind:      ir.PrimSetKindPrimitives,
		Params:    ir.ParamTable{},
		steps:     map[string]Step{},
	}
}

// newRecipeSet creates the set a bound recipe lives in.
func newRecipeSet(astrotype string) *PrimitiveSet {
	ps := NewPrimitiveSet("RECIPE", astrotype)
	ps.Kind = ir.PrimSetKindRecipe
	return ps
}

// PrimitiveSetFactory builds a primitive set implementation. Factories are
// registered by set name on the registry.
type PrimitiveSetFactory func() *PrimitiveSet

// Register adds step under name, replacing any step of that name.
func (ps *PrimitiveSet) Register(name string, step Step) *PrimitiveSet {
	ps.steps[name] = step
	return ps
}

// Step returns the step called name.
func (ps *PrimitiveSet) Step(name string) (Step, bool) {
	s, ok := ps.steps[name]
	return s, ok
}

// Has reports whether the set provides name.
func (ps *PrimitiveSet) Has(name string) bool {
	_, ok := ps.steps[name]
	return ok
}

// Names returns the step names in sorted order.
func (ps *PrimitiveSet) Names() []string {
	names := make([]string, 0, len(ps.steps))
	for n := range ps.steps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MergeParams lays declarations from table over the set's own.
func (ps *PrimitiveSet) MergeParams(table ir.ParamTable) {
	for prim, params := range table {
		if ps.Params[prim] == nil {
			ps.Params[prim] = map[string]ir.ParamSpec{}
		}
		for name, spec := range params {
			ps.Params[prim][name] = spec
		}
	}
}
