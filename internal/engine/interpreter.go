package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/roach88/reduce/internal/compiler"
	"github.com/roach88/reduce/internal/ir"
)

// Interpret runs a compiled recipe on rc as a lazy sequence of snapshots.
//
// The recipe-local overlay is captured when the sequence starts. For each
// instruction:
//   - a conditional instruction whose key is set to "false" (any case) in
//     the recipe-local overlay is skipped, yielding once
//   - otherwise the step-local overlay becomes the instruction arguments,
//     with `[key]` values replaced from the recipe-local overlay, and the
//     step runs through ro.Substeps with every snapshot forwarded
//   - one snapshot is yielded after the step
//
// The sequence ends as soon as rc is finished. It is single-pass: ranging
// over it twice runs the recipe twice.
func Interpret(ctx context.Context, ro *ReductionObject, prog *ir.Program, rc *ReductionContext) iter.Seq2[*ReductionContext, error] {
	return func(yield func(*ReductionContext, error) bool) {
		recipeLocal := rc.LocalParams()

		for _, in := range prog.Instructions {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			if in.Op == ir.OpConditionalInvoke && skipped(recipeLocal, in.ConditionalKeys) {
				slog.Debug("step skipped", "recipe", prog.Name, "step", in.Line)
				if !yield(rc, nil) || rc.IsFinished() {
					return
				}
				continue
			}

			rc.SetLocalParams(resolveArgs(in.Args, recipeLocal))

			for snap, err := range ro.Substeps(ctx, in.Primitive, rc) {
				if err != nil {
					var se *ir.StepError
					if errors.As(err, &se) && se.Recipe == "" {
						se.Recipe = prog.Name
					}
					yield(nil, err)
					return
				}
				if !yield(snap, nil) || snap.IsFinished() {
					return
				}
			}

			if !yield(rc, nil) || rc.IsFinished() {
				return
			}
		}
	}
}

// skipped reports whether any conditional key is disabled in local.
func skipped(local map[string]any, keys []string) bool {
	for _, k := range keys {
		v, ok := local[k]
		if !ok {
			continue
		}
		if strings.EqualFold(fmt.Sprint(v), "false") {
			return true
		}
	}
	return false
}

// resolveArgs turns instruction arguments into a step-local overlay.
// A `[key]` value is replaced by recipeLocal[key] when present and kept
// as written otherwise.
func resolveArgs(args ir.Args, recipeLocal map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, a := range args {
		if a.Flag {
			out[k] = true
			continue
		}
		if ref, ok := compiler.IndirectKey(a.Str); ok {
			if v, found := recipeLocal[ref]; found {
				out[k] = v
				continue
			}
		}
		out[k] = a.Str
	}
	return out
}
