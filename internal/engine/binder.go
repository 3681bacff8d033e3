package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/reduce/internal/compiler"
	"github.com/roach88/reduce/internal/ir"
)

// RecipeSource looks up recipe text. Implemented by registry.Registry.
//
// With inherit set, a lookup for a type that has no type-specific recipe
// falls back to the generic recipe of that name.
type RecipeSource interface {
	RetrieveRecipe(name, astrotype string, inherit bool) (string, bool, error)
}

// Classifier reports the astrotypes of a dataset, most specific first.
type Classifier interface {
	Classify(ds ir.Dataset) ([]string, error)
}

// Binder compiles recipes and binds them onto reduction objects as
// RECIPE primitive sets.
type Binder struct {
	recipes RecipeSource
	types   Classifier
}

// NewBinder creates a binder. Either argument may be nil, in which case
// only BindSource is available.
func NewBinder(recipes RecipeSource, types Classifier) *Binder {
	return &Binder{recipes: recipes, types: types}
}

// BindSource compiles src and binds it as name. Binding over an existing
// step of the same name is a NAME_CONFLICT.
func (b *Binder) BindSource(ro *ReductionObject, name, src string) error {
	if ps, ok := ro.PrimSet(name); ok {
		return nameConflict(ro, name, ps)
	}
	prog, err := compiler.ParseRecipe(name, src)
	if err != nil {
		return err
	}
	b.bind(ro, prog)
	return nil
}

// BindForType looks up recipe name for astrotype (inheriting the generic
// recipe) and binds it.
//
// When ro already provides name, the lookup decides: no recipe of that
// name means the primitive is meant and binding is skipped; a recipe that
// is already bound is kept; any other recipe is a NAME_CONFLICT.
func (b *Binder) BindForType(ro *ReductionObject, name, astrotype string) error {
	src, found, err := b.retrieve(name, astrotype, true)
	if err != nil {
		return err
	}
	if ps, ok := ro.PrimSet(name); ok {
		if !found || ps.Kind == ir.PrimSetKindRecipe {
			return nil
		}
		return nameConflict(ro, name, ps)
	}
	if !found {
		return &ir.ResolutionError{
			Code:      ir.ErrCodeRecipeNotFound,
			Message:   fmt.Sprintf("recipe source not found (type=%s, name=%s)", astrotype, name),
			AstroType: astrotype,
			Name:      name,
		}
	}
	return b.compileAndBind(ro, name, src)
}

// BindForDataset binds recipe name for the types of ds: the first type,
// most specific first, that has its own recipe wins; otherwise the
// generic recipe is bound.
func (b *Binder) BindForDataset(ro *ReductionObject, name string, ds ir.Dataset) error {
	if b.types == nil {
		return fmt.Errorf("bind %s for %s: no classifier configured", name, ds.Filename)
	}
	types, err := b.types.Classify(ds)
	if err != nil {
		return err
	}
	for _, typ := range types {
		src, found, err := b.retrieve(name, typ, false)
		if err != nil {
			return err
		}
		if found {
			return b.compileAndBind(ro, name, src)
		}
	}
	src, found, err := b.retrieve(name, "", true)
	if err != nil {
		return err
	}
	if !found {
		return &ir.ResolutionError{
			Code:       ir.ErrCodeRecipeNotFound,
			Message:    fmt.Sprintf("no recipe %s for %s", name, ds.Filename),
			Name:       name,
			Candidates: types,
		}
	}
	return b.compileAndBind(ro, name, src)
}

// CheckAndBind binds recipe name for ro's astrotype unless ro already
// provides a step of that name. It reports whether a recipe was bound.
func (b *Binder) CheckAndBind(ro *ReductionObject, name string) (bool, error) {
	if ro.HasStep(name) {
		return false, nil
	}
	if err := b.BindForType(ro, name, ro.AstroType); err != nil {
		return false, err
	}
	return true, nil
}

func (b *Binder) retrieve(name, astrotype string, inherit bool) (string, bool, error) {
	if b.recipes == nil {
		return "", false, nil
	}
	return b.recipes.RetrieveRecipe(name, astrotype, inherit)
}

func (b *Binder) compileAndBind(ro *ReductionObject, name, src string) error {
	prog, cached := ro.programs[name]
	if !cached {
		var err error
		prog, err = compiler.ParseRecipe(name, src)
		if err != nil {
			return err
		}
	}
	b.bind(ro, prog)
	return nil
}

func (b *Binder) bind(ro *ReductionObject, prog *ir.Program) {
	ro.programs[prog.Name] = prog
	ps := newRecipeSet(ro.AstroType)
	ps.Register(prog.Name, recipeStep(ro, prog))
	ro.AddPrimSet(ps)
	slog.Debug("recipe bound", "recipe", prog.Name, "astrotype", ro.AstroType, "steps", len(prog.Instructions))
}

// recipeStep adapts a compiled recipe to a Step so recipes can invoke
// other recipes by name.
func recipeStep(ro *ReductionObject, prog *ir.Program) Step {
	return func(ctx context.Context, rc *ReductionContext, yield func(*ReductionContext) bool) error {
		for snap, err := range Interpret(ctx, ro, prog, rc) {
			if err != nil {
				return err
			}
			if !yield(snap) {
				return nil
			}
		}
		return nil
	}
}

func nameConflict(ro *ReductionObject, name string, ps *PrimitiveSet) error {
	return &ir.ConfigurationError{
		Code:      ir.ErrCodeNameConflict,
		Message:   fmt.Sprintf("assigning recipe %s but it exists as %s in set %s", name, ps.Kind, ps.Name),
		AstroType: ro.AstroType,
		Primitive: name,
	}
}
