package compiler

import (
	"fmt"
	"sort"

	"github.com/roach88/reduce/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrUnsupportedType = "E200" // unsupported value for validation

	// Program errors (E201-E209)
	ErrEmptyRecipe        = "E201" // recipe has no steps
	ErrSelfInvocation     = "E202" // recipe invokes itself
	ErrEmptyIndirection   = "E203" // argument value is "[]"
	ErrDuplicateLine      = "E204" // identical lines share one conditional key
	ErrUnknownPrimitive   = "E205" // primitive not provided by the resolved sets
	ErrUndeclaredArgument = "E206" // argument not declared for the primitive

	// Parameter table errors (E210-E219)
	ErrInvalidParamType  = "E210" // type not one of bool, int, str, float
	ErrDefaultNotTyped   = "E211" // default does not convert to the declared type
	ErrFixedWithoutValue = "E212" // recipeOverride false but no default
)

// ValidationError represents a recipe or declaration validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled program or parameter table.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch val := v.(type) {
	case *ir.Program:
		return validateProgram(val)
	case ir.ParamTable:
		return validateParamTable(val)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type: %T", v),
			Code:    ErrUnsupportedType,
		}}
	}
}

// ValidateAgainst checks a program against the primitives and parameter
// declarations it will run with. known reports whether a name resolves to
// a primitive or a bound recipe.
func ValidateAgainst(prog *ir.Program, known func(string) bool, params ir.ParamTable) []ValidationError {
	errs := validateProgram(prog)
	for _, in := range prog.Instructions {
		if known != nil && !known(in.Primitive) {
			errs = append(errs, ValidationError{
				Field:   in.Primitive,
				Message: fmt.Sprintf("no primitive or recipe named %q", in.Primitive),
				Code:    ErrUnknownPrimitive,
				Line:    in.LineNo,
			})
			continue
		}
		declared, ok := params[in.Primitive]
		if !ok {
			continue
		}
		for _, key := range in.Args.Keys() {
			if _, ok := declared[key]; !ok {
				errs = append(errs, ValidationError{
					Field:   in.Primitive + "." + key,
					Message: fmt.Sprintf("argument %q is not declared for %s", key, in.Primitive),
					Code:    ErrUndeclaredArgument,
					Line:    in.LineNo,
				})
			}
		}
	}
	return errs
}

func validateProgram(prog *ir.Program) []ValidationError {
	var errs []ValidationError

	// E201
	if len(prog.Instructions) == 0 {
		errs = append(errs, ValidationError{
			Field:   prog.Name,
			Message: "recipe has no steps",
			Code:    ErrEmptyRecipe,
		})
	}

	seen := map[string]int{}
	for _, in := range prog.Instructions {
		// E202
		if in.Primitive == prog.Name {
			errs = append(errs, ValidationError{
				Field:   in.Primitive,
				Message: "recipe invokes itself",
				Code:    ErrSelfInvocation,
				Line:    in.LineNo,
			})
		}

		// E203
		for _, key := range in.Args.Keys() {
			if ref, ok := IndirectKey(in.Args[key].Str); ok && ref == "" {
				errs = append(errs, ValidationError{
					Field:   in.Primitive + "." + key,
					Message: "indirection names no key",
					Code:    ErrEmptyIndirection,
					Line:    in.LineNo,
				})
			}
		}

		// E204
		if first, dup := seen[in.Line]; dup {
			errs = append(errs, ValidationError{
				Field:   in.Primitive,
				Message: fmt.Sprintf("same line as line %d; a skip setting disables both", first),
				Code:    ErrDuplicateLine,
				Line:    in.LineNo,
			})
		} else {
			seen[in.Line] = in.LineNo
		}
	}

	return errs
}

func validateParamTable(table ir.ParamTable) []ValidationError {
	var errs []ValidationError

	prims := make([]string, 0, len(table))
	for p := range table {
		prims = append(prims, p)
	}
	sort.Strings(prims)

	for _, prim := range prims {
		names := make([]string, 0, len(table[prim]))
		for n := range table[prim] {
			names = append(names, n)
		}
		sort.Strings(names)

		for _, name := range names {
			spec := table[prim][name]
			field := prim + "." + name

			// E210
			if !ir.ValidParamTypes[spec.Type] {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("invalid parameter type %q", spec.Type),
					Code:    ErrInvalidParamType,
				})
				continue
			}

			// E211
			if spec.HasDefault {
				if _, err := ir.ConvertParam(name, spec.Type, spec.Default); err != nil {
					errs = append(errs, ValidationError{
						Field:   field,
						Message: fmt.Sprintf("default %v is not a %s", spec.Default, spec.Type),
						Code:    ErrDefaultNotTyped,
					})
				}
			}

			// E212
			if !spec.RecipeOverridable() && !spec.HasDefault {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: "fixed parameter has no default",
					Code:    ErrFixedWithoutValue,
				})
			}
		}
	}

	return errs
}
