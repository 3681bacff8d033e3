package engine

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/roach88/reduce/internal/ir"
)

// ReductionObject is what a recipe runs on: the primitive sets resolved for
// one astrotype, most specific first, plus the recipes bound to it.
// One is assembled per run and binding mutates it.
type ReductionObject struct {
	AstroType string

	sets     []*PrimitiveSet
	programs map[string]*ir.Program
	binder   *Binder
	observer StepObserver
	depth    *DepthGuard
}

// ROOption configures a ReductionObject.
type ROOption func(*ReductionObject)

// WithStepObserver reports every finished step to o.
func WithStepObserver(o StepObserver) ROOption {
	return func(ro *ReductionObject) { ro.observer = o }
}

// WithMaxDepth limits recipe nesting. Default: DefaultMaxDepth.
func WithMaxDepth(n int) ROOption {
	return func(ro *ReductionObject) { ro.depth = NewDepthGuard(n) }
}

// WithBinder sets the binder used for recipes bound on demand.
func WithBinder(b *Binder) ROOption {
	return func(ro *ReductionObject) { ro.binder = b }
}

// NewReductionObject creates an empty reduction object for astrotype.
func NewReductionObject(astrotype string, opts ...ROOption) *ReductionObject {
	ro := &ReductionObject{
		AstroType: astrotype,
		programs:  map[string]*ir.Program{},
		depth:     NewDepthGuard(DefaultMaxDepth),
	}
	for _, opt := range opts {
		opt(ro)
	}
	if ro.binder == nil {
		ro.binder = NewBinder(nil, nil)
	}
	return ro
}

// AddPrimSet adds a primitive set. Recipe sets are placed in front of
// everything bound so far; primitive sets are appended, so sets added in
// most-specific-first order keep that order.
func (ro *ReductionObject) AddPrimSet(ps *PrimitiveSet) {
	if ps.Kind == ir.PrimSetKindRecipe {
		ro.sets = append([]*PrimitiveSet{ps}, ro.sets...)
		return
	}
	ro.sets = append(ro.sets, ps)
}

// NewPrimitiveSet creates a set of the given kind for the object's
// astrotype and adds it.
func (ro *ReductionObject) NewPrimitiveSet(name string, kind ir.PrimSetKind) *PrimitiveSet {
	ps := NewPrimitiveSet(name, ro.AstroType)
	ps.Kind = kind
	ro.AddPrimSet(ps)
	return ps
}

// PrimSets returns the sets in lookup order.
func (ro *ReductionObject) PrimSets() []*PrimitiveSet {
	return append([]*PrimitiveSet(nil), ro.sets...)
}

// PrimSet returns the first set providing name.
func (ro *ReductionObject) PrimSet(name string) (*PrimitiveSet, bool) {
	for _, ps := range ro.sets {
		if ps.Has(name) {
			return ps, true
		}
	}
	return nil, false
}

// HasStep reports whether any set provides name.
func (ro *ReductionObject) HasStep(name string) bool {
	_, ok := ro.PrimSet(name)
	return ok
}

// Program returns the compiled recipe bound under name.
func (ro *ReductionObject) Program(name string) (*ir.Program, bool) {
	p, ok := ro.programs[name]
	return p, ok
}

// ParamTable returns the declarations of the set providing primitive.
func (ro *ReductionObject) ParamTable(primitive string) ir.ParamTable {
	if ps, ok := ro.PrimSet(primitive); ok {
		return ps.Params
	}
	return nil
}

// BindSource compiles src and binds it as recipe name.
func (ro *ReductionObject) BindSource(name, src string) error {
	return ro.binder.BindSource(ro, name, src)
}

// CheckAndBind binds recipe name for the object's astrotype unless a step
// of that name already exists.
func (ro *ReductionObject) CheckAndBind(name string) error {
	_, err := ro.binder.CheckAndBind(ro, name)
	return err
}

// Substeps runs step name on rc as one bracketed step: parameters are
// collated, a begin mark is recorded, every snapshot the step yields is
// forwarded, and an end mark is recorded when the step returns.
//
// If the step fails or the consumer stops early, no end mark is recorded
// but the depth and the step-local overlay are still unwound.
func (ro *ReductionObject) Substeps(ctx context.Context, name string, rc *ReductionContext) iter.Seq2[*ReductionContext, error] {
	return func(yield func(*ReductionContext, error) bool) {
		ps, ok := ro.PrimSet(name)
		if !ok && ro.binder.recipes != nil {
			// a recipe may invoke a recipe that is not bound yet
			err := ro.binder.BindForType(ro, name, ro.AstroType)
			if err != nil && !ir.HasCode(err, ir.ErrCodeRecipeNotFound) {
				yield(nil, err)
				return
			}
			ps, ok = ro.PrimSet(name)
		}
		if !ok {
			yield(nil, &ir.ResolutionError{
				Code:      ir.ErrCodePrimitiveNotFound,
				Message:   fmt.Sprintf("no primitive or recipe named %s", name),
				AstroType: ro.AstroType,
				Name:      name,
			})
			return
		}
		step, _ := ps.Step(name)

		if err := ro.depth.Enter(name); err != nil {
			yield(nil, err)
			return
		}
		defer ro.depth.Leave()

		if ps.Kind == ir.PrimSetKindPrimitives {
			if err := rc.collate(ro.AstroType, name, ps.Params); err != nil {
				yield(nil, err)
				return
			}
		}

		rc.Begin(name)
		ended := false
		defer func() {
			if !ended {
				rc.abandon(name)
			}
		}()
		start := time.Now()
		stopped := false
		err := step(ctx, rc, func(snap *ReductionContext) bool {
			if stopped {
				return false
			}
			if !yield(snap, nil) {
				stopped = true
			}
			return !stopped
		})
		if ro.observer != nil {
			ro.observer.ObserveStep(ps.Kind, name, time.Since(start), err)
		}
		if err != nil {
			slog.Debug("step failed", "run_id", rc.RunID(), "step", name, "nesting", ro.depth.Current(), "error", err)
			if !stopped {
				yield(nil, stepFailure("", name, err))
			}
			return
		}
		if stopped {
			return
		}
		rc.End(name)
		ended = true
	}
}

// Run drives step name on rc to completion, discarding snapshots.
func (ro *ReductionObject) Run(ctx context.Context, name string, rc *ReductionContext) error {
	for _, err := range ro.Substeps(ctx, name, rc) {
		if err != nil {
			return err
		}
	}
	return nil
}
