package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/roach88/reduce/internal/engine"
	"github.com/roach88/reduce/internal/ir"
)

// Registry is the discovery index: recipes, primitive-set declarations,
// parameter sets and the astrotype graph found by one walk of the recipe
// paths, plus the Go implementations of the primitive sets.
//
// Thread-safety: lookups are safe for concurrent use once Build returns.
type Registry struct {
	recipes      map[string]string              // recipe name (may be base.TYPE) -> path
	typeRecipes  map[string][]string            // astrotype -> recipe names
	primIndex    map[string][]ir.PrimSetRef     // astrotype -> primitive sets
	paramTables  map[string]ir.ParamTable       // definition basename -> declarations
	paramSets    map[string]map[string]any      // parameter set name -> values
	typeParams   map[string][]string            // astrotype -> parameter set names
	graph        *TypeGraph
	classifier   Classifier
	roOpts       []engine.ROOption
	fallbackSets []string

	mu        sync.RWMutex
	factories map[string]engine.PrimitiveSetFactory
	loadTimes []LoadTime
}

var (
	_ engine.ObjectSource = (*Registry)(nil)
	_ engine.RecipeSource = (*Registry)(nil)
	_ engine.Classifier   = (*Registry)(nil)
)

// LoadTime records how long assembling one reduction object took.
type LoadTime struct {
	Source   string        `json:"source"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithClassifier sets the classifier used for datasets given without an
// astrotype.
func WithClassifier(c Classifier) Option {
	return func(r *Registry) { r.classifier = c }
}

// WithObjectOptions passes opts to every reduction object the registry
// assembles.
func WithObjectOptions(opts ...engine.ROOption) Option {
	return func(r *Registry) { r.roOpts = append(r.roOpts, opts...) }
}

// WithFallbackSets names primitive sets used, under astrotype GENERIC,
// when no indexed set applies.
func WithFallbackSets(sets ...string) Option {
	return func(r *Registry) { r.fallbackSets = append(r.fallbackSets, sets...) }
}

// GenericType is the astrotype of reduction objects built from the
// fallback sets.
const GenericType = "GENERIC"

func newRegistry(opts []Option) *Registry {
	r := &Registry{
		recipes:     map[string]string{},
		typeRecipes: map[string][]string{},
		primIndex:   map[string][]ir.PrimSetRef{},
		paramTables: map[string]ir.ParamTable{},
		paramSets:   map[string]map[string]any{},
		typeParams:  map[string][]string{},
		graph:       NewTypeGraph(),
		factories:   map[string]engine.PrimitiveSetFactory{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Types returns the astrotype graph.
func (r *Registry) Types() *TypeGraph { return r.graph }

// RegisterFactory registers the implementation of primitive set name.
// Registering a name again replaces the factory.
func (r *Registry) RegisterFactory(name string, f engine.PrimitiveSetFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) factory(name string) (engine.PrimitiveSetFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// RetrieveRecipe returns the source of recipe name for astrotype. A
// type-specific recipe (file recipe.name.TYPE) wins; otherwise the generic
// recipe is returned when inherit is set or astrotype is empty.
func (r *Registry) RetrieveRecipe(name, astrotype string, inherit bool) (string, bool, error) {
	path, ok := "", false
	if astrotype != "" {
		path, ok = r.recipes[name+"."+astrotype]
	}
	if !ok && (astrotype == "" || inherit) {
		path, ok = r.recipes[name]
	}
	if !ok {
		return "", false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("read recipe %s: %w", name, err)
	}
	return string(data), true, nil
}

// RecipeNames returns every indexed recipe name, sorted.
func (r *Registry) RecipeNames() []string {
	return sortedKeys(r.recipes)
}

// RecipeIndex returns a copy of the recipe name -> path index.
func (r *Registry) RecipeIndex() map[string]string {
	out := make(map[string]string, len(r.recipes))
	for k, v := range r.recipes {
		out[k] = v
	}
	return out
}

// ApplicableRecipes returns the recipes the recipe indices assign to
// types, in type order.
func (r *Registry) ApplicableRecipes(types ...string) []string {
	var out []string
	for _, t := range types {
		out = append(out, r.typeRecipes[t]...)
	}
	return out
}

// ApplicableRecipesByType is ApplicableRecipes grouped by astrotype.
func (r *Registry) ApplicableRecipesByType(types ...string) map[string][]string {
	out := map[string][]string{}
	for _, t := range types {
		if names, ok := r.typeRecipes[t]; ok {
			out[t] = append([]string(nil), names...)
		}
	}
	return out
}

// ApplicableParameters returns the parameter sets assigned to types.
func (r *Registry) ApplicableParameters(types ...string) []string {
	var out []string
	for _, t := range types {
		out = append(out, r.typeParams[t]...)
	}
	return out
}

// Parameters returns a copy of parameter set name.
func (r *Registry) Parameters(name string) (map[string]any, bool) {
	set, ok := r.paramSets[name]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(set))
	for k, v := range set {
		out[k] = v
	}
	return out, true
}

// ParameterSetNames returns every parameter set name, sorted.
func (r *Registry) ParameterSetNames() []string {
	return sortedKeys(r.paramSets)
}

// Classify returns the astrotypes of ds, ancestors included, most
// specific first.
func (r *Registry) Classify(ds ir.Dataset) ([]string, error) {
	if r.classifier == nil {
		return nil, &ir.ResolutionError{
			Code:    ir.ErrCodeUnknownType,
			Message: fmt.Sprintf("cannot classify %s: no classifier configured", ds.Filename),
			Name:    ds.Filename,
		}
	}
	types, err := r.classifier.Classify(ds)
	if err != nil {
		return nil, err
	}
	return r.graph.Expand(types), nil
}

// ResolveType picks the astrotype whose primitive sets serve a reduction.
// An explicit astrotype without sets of its own falls back to its most
// specific ancestor that has some. Without an astrotype ds is classified.
func (r *Registry) ResolveType(astrotype string, ds ir.Dataset) (string, error) {
	var candidates []string
	if astrotype != "" {
		if _, ok := r.primIndex[astrotype]; ok {
			return astrotype, nil
		}
		if !r.graph.Has(astrotype) && len(r.fallbackSets) == 0 {
			return "", &ir.ResolutionError{
				Code:      ir.ErrCodeUnknownType,
				Message:   fmt.Sprintf("unknown astrotype %s", astrotype),
				AstroType: astrotype,
			}
		}
		candidates = r.withSets(r.graph.Ancestors(astrotype))
	} else {
		if r.classifier == nil && len(r.fallbackSets) > 0 {
			return GenericType, nil
		}
		types, err := r.Classify(ds)
		if err != nil {
			return "", err
		}
		candidates = r.withSets(types)
	}

	best := r.graph.MostSpecific(candidates)
	switch {
	case len(best) == 1:
		return best[0], nil
	case len(best) > 1:
		return "", &ir.ResolutionError{
			Code:       ir.ErrCodePrimSetConflict,
			Message:    "can't resolve primitive set conflict",
			AstroType:  astrotype,
			Name:       ds.Filename,
			Candidates: best,
		}
	case len(r.fallbackSets) > 0:
		return GenericType, nil
	}
	return "", &ir.ResolutionError{
		Code:      ir.ErrCodeNoPrimitiveSet,
		Message:   "no primitive set applies",
		AstroType: astrotype,
		Name:      ds.Filename,
	}
}

func (r *Registry) withSets(types []string) []string {
	var out []string
	for _, t := range types {
		if _, ok := r.primIndex[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// RetrievePrimitiveSets instantiates the primitive sets for astrotype (or
// for the classification of ds when astrotype is empty), in index order.
// Each set gets the parameter declarations of its definition file.
func (r *Registry) RetrievePrimitiveSets(ctx context.Context, astrotype string, ds ir.Dataset) ([]*engine.PrimitiveSet, error) {
	typ, err := r.ResolveType(astrotype, ds)
	if err != nil {
		return nil, err
	}

	refs := r.primIndex[typ]
	if typ == GenericType && len(refs) == 0 {
		for _, name := range r.fallbackSets {
			refs = append(refs, ir.PrimSetRef{Set: name})
		}
	}

	if len(refs) == 0 {
		return nil, &ir.ResolutionError{
			Code:      ir.ErrCodeNoPrimitiveSet,
			Message:   "primitive index lists no sets",
			AstroType: typ,
		}
	}

	sets := make([]*engine.PrimitiveSet, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, ok := r.factory(ref.Set)
		if !ok {
			return nil, &ir.ResolutionError{
				Code:      ir.ErrCodeNoPrimitiveSet,
				Message:   fmt.Sprintf("primitive set %s has no implementation", ref.Set),
				AstroType: typ,
				Name:      ref.Set,
			}
		}
		ps := f()
		ps.AstroType = typ
		if ref.File != "" {
			table, ok := r.paramTables[ref.File]
			if !ok {
				return nil, &ir.ResolutionError{
					Code:      ir.ErrCodeNoPrimitiveSet,
					Message:   fmt.Sprintf("primitive set %s: definition %s not found", ref.Set, ref.File),
					AstroType: typ,
					Name:      ref.File,
				}
			}
			ps.MergeParams(table)
		}
		sets = append(sets, ps)
	}
	return sets, nil
}

// RetrieveReductionObject assembles the reduction object for a run. It
// implements engine.ObjectSource.
func (r *Registry) RetrieveReductionObject(ctx context.Context, astrotype string, ds ir.Dataset) (*engine.ReductionObject, error) {
	start := time.Now()
	sets, err := r.RetrievePrimitiveSets(ctx, astrotype, ds)
	if err != nil {
		return nil, err
	}

	typ := sets[0].AstroType
	opts := append([]engine.ROOption{engine.WithBinder(engine.NewBinder(r, r.binderClassifier()))}, r.roOpts...)
	ro := engine.NewReductionObject(typ, opts...)
	for _, ps := range sets {
		ro.AddPrimSet(ps)
	}

	source := "UNKNOWN"
	switch {
	case astrotype != "":
		source = "TYPE: " + astrotype
	case ds.Filename != "":
		source = "FILE: " + ds.Filename
	}
	r.addLoadTime(source, start)
	slog.Debug("reduction object assembled", "astrotype", typ, "sets", len(sets), "source", source)
	return ro, nil
}

func (r *Registry) binderClassifier() engine.Classifier {
	if r.classifier == nil {
		return nil
	}
	return r
}

func (r *Registry) addLoadTime(source string, start time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadTimes = append(r.loadTimes, LoadTime{Source: source, Start: start, Duration: time.Since(start)})
}

// LoadTimes returns the recorded assembly times in the order they
// happened.
func (r *Registry) LoadTimes() []LoadTime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]LoadTime(nil), r.loadTimes...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
