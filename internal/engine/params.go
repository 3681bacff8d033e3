package engine

import (
	"fmt"
	"sort"

	"github.com/roach88/reduce/internal/ir"
)

// CollateParams builds the step-local overlay for one primitive invocation
// from the four parameter layers, lowest first:
//
//	compiled default -> recipe-local -> ambient context -> user override
//
// local holds the recipe arguments for this step and ambient is the
// context's key/value store. The returned map is the new overlay; local is
// not modified. Primitives without declarations keep local unchanged.
//
// Declared parameters are processed in sorted order so that the first
// violation reported is stable.
func CollateParams(astrotype, primitive string, table ir.ParamTable, local, ambient map[string]any, user *ir.UserParams) (map[string]any, error) {
	decls, ok := table[primitive]
	if !ok {
		return local, nil
	}

	out := make(map[string]any, len(local)+len(decls))
	for k, v := range local {
		out[k] = v
	}
	has := func(param string) bool {
		_, inLocal := out[param]
		_, inAmbient := ambient[param]
		return inLocal || inAmbient
	}

	overrides := user.Get(astrotype, primitive)
	overrideNames := sortedKeys(overrides)

	// 1. users never override arguments written in the recipe
	for _, param := range overrideNames {
		if v, inLocal := local[param]; inLocal {
			return nil, &ir.ConfigurationError{
				Code:      ir.ErrCodeUserOverridesRecipe,
				Message:   "user attempting to override parameter set in recipe",
				AstroType: astrotype,
				Primitive: primitive,
				Param:     param,
				Attempted: overrides[param],
				Fixed:     fmt.Sprint(v),
			}
		}
	}

	names := make([]string, 0, len(decls))
	for name := range decls {
		names = append(names, name)
	}
	sort.Strings(names)

	// 2. recipe and context values must respect recipeOverride; unset
	// parameters take their default
	for _, param := range names {
		spec := decls[param]
		if has(param) {
			if !spec.RecipeOverridable() {
				return nil, &ir.ConfigurationError{
					Code:      ir.ErrCodeFixedParameter,
					Message:   "recipe attempts to set fixed parameter",
					AstroType: astrotype,
					Primitive: primitive,
					Param:     param,
					Attempted: fmt.Sprint(valueOf(param, out, ambient)),
					Fixed:     fmt.Sprint(spec.Default),
				}
			}
			continue
		}
		if spec.HasDefault {
			out[param] = spec.Default
		}
	}

	// 3. context values count as user space
	for _, param := range names {
		spec := decls[param]
		if v, inAmbient := ambient[param]; inAmbient && !spec.UserOverridable() {
			return nil, &ir.ConfigurationError{
				Code:      ir.ErrCodeContextFixedParameter,
				Message:   "parameter set in context when userOverride is false",
				AstroType: astrotype,
				Primitive: primitive,
				Param:     param,
				Attempted: fmt.Sprint(v),
				Fixed:     fmt.Sprint(spec.Default),
			}
		}
	}

	// 4. user overrides win when permitted
	for _, param := range overrideNames {
		spec, declared := decls[param]
		if declared && has(param) && !spec.UserOverridable() {
			return nil, &ir.ConfigurationError{
				Code:      ir.ErrCodeFixedParameter,
				Message:   "user attempted to set fixed parameter",
				AstroType: astrotype,
				Primitive: primitive,
				Param:     param,
				Attempted: overrides[param],
				Fixed:     fmt.Sprint(spec.Default),
			}
		}
		out[param] = overrides[param]
	}

	return out, nil
}

func valueOf(param string, local, ambient map[string]any) any {
	if v, ok := local[param]; ok {
		return v
	}
	return ambient[param]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParamDictByTag returns the current values of primitive's parameters that
// carry tag, with extra entries laid over them. Values are read through
// the context so overlays and overrides apply.
func (rc *ReductionContext) ParamDictByTag(table ir.ParamTable, primitive, tag string, extra map[string]any) map[string]any {
	out := map[string]any{}
	for name, spec := range table[primitive] {
		if !spec.HasTag(tag) {
			continue
		}
		if v, ok := rc.Get(name); ok {
			out[name] = v
		} else if spec.HasDefault {
			out[name] = spec.Default
		}
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
