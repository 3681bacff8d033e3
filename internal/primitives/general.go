// Package primitives holds the primitive sets built into reduce.
//
// The GENERAL set works on any astrotype: it inspects the reduction
// context and issues the requests the control loop services (calibration,
// stacking, display, pause, cache clearing). The registry uses it as the
// fallback set for datasets no indexed set applies to.
package primitives

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/reduce/internal/engine"
	"github.com/roach88/reduce/internal/ir"
)

// GeneralSet is the registered name of the GENERAL primitive set.
const GeneralSet = "GENERALPrimitives"

// Factories returns the built-in primitive set factories by name. Show
// primitives write to w.
func Factories(w io.Writer) map[string]engine.PrimitiveSetFactory {
	return map[string]engine.PrimitiveSetFactory{
		GeneralSet: General(w),
	}
}

// General returns the factory of the GENERAL set.
func General(w io.Writer) engine.PrimitiveSetFactory {
	g := general{w: w}
	return func() *engine.PrimitiveSet {
		ps := engine.NewPrimitiveSet(GeneralSet, "")
		ps.Register("showInputs", g.showInputs).
			Register("showParameters", g.showParameters).
			Register("showCals", g.showCals).
			Register("showStack", g.showStack).
			Register("setStackable", g.setStackable).
			Register("getStackable", g.getStackable).
			Register("getCalibration", g.getCalibration).
			Register("display", g.display).
			Register("pause", g.pause).
			Register("clearCache", g.clearCache).
			Register("storeOutputs", g.storeOutputs)
		ps.MergeParams(generalParams())
		return ps
	}
}

func generalParams() ir.ParamTable {
	fixed := false
	str := func(def any, help string) ir.ParamSpec {
		return ir.ParamSpec{Default: def, HasDefault: def != nil, Type: "str", Help: help}
	}
	purpose := str("", "stack purpose appended to the stack id")
	return ir.ParamTable{
		"showInputs":     {"stripPath": {Default: true, HasDefault: true, Type: "bool", Help: "print basenames only"}},
		"showParameters": {"localOnly": {Default: false, HasDefault: true, Type: "bool", Help: "print the step-local overlay only"}},
		"showStack":      {"purpose": purpose},
		"setStackable":   {"purpose": purpose},
		"getStackable":   {"purpose": purpose},
		"getCalibration": {
			"caltype": str(nil, "calibration type to request"),
			"source": {Default: "all", HasDefault: true, Type: "str", UserOverride: &fixed,
				Help: "where to search: all, local or remote"},
		},
		"display": {"displayID": str("", "display frame id; derived from the first input when empty")},
	}
}

type general struct {
	w io.Writer
}

func (g general) printf(format string, args ...any) {
	fmt.Fprintf(g.w, format, args...)
}

func paramString(rc *engine.ReductionContext, key string) (string, error) {
	v, err := rc.Param(key)
	if err != nil || v == nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s: expected string, got %T", key, v)
	}
	return s, nil
}

func paramBool(rc *engine.ReductionContext, key string) (bool, error) {
	v, err := rc.Param(key)
	if err != nil || v == nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %s: expected bool, got %T", key, v)
	}
	return b, nil
}

func (g general) showInputs(_ context.Context, rc *engine.ReductionContext, _ func(*engine.ReductionContext) bool) error {
	strip, err := paramBool(rc, "stripPath")
	if err != nil {
		return err
	}
	g.printf("inputs: %s\n", rc.InputsAsString(strip))
	return nil
}

func (g general) showParameters(_ context.Context, rc *engine.ReductionContext, _ func(*engine.ReductionContext) bool) error {
	local, err := paramBool(rc, "localOnly")
	if err != nil {
		return err
	}
	for _, k := range rc.ParamNames(local) {
		v, _ := rc.Get(k)
		g.printf("%s = %v\n", k, v)
	}
	return nil
}

func (g general) showCals(_ context.Context, rc *engine.ReductionContext, _ func(*engine.ReductionContext) bool) error {
	summary := rc.CalSummary()
	if summary == "" {
		summary = "no calibrations\n"
	}
	g.printf("%s", summary)
	return nil
}

func (g general) showStack(_ context.Context, rc *engine.ReductionContext, _ func(*engine.ReductionContext) bool) error {
	purpose, err := paramString(rc, "purpose")
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, in := range rc.OriginalInputs() {
		id, err := rc.StackableID(in, purpose)
		if err != nil {
			return err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		g.printf("stack %s: %s\n", id, strings.Join(rc.Stack(id), ", "))
	}
	return nil
}

func (g general) setStackable(_ context.Context, rc *engine.ReductionContext, yield func(*engine.ReductionContext) bool) error {
	purpose, err := paramString(rc, "purpose")
	if err != nil {
		return err
	}
	if err := rc.RequestStackUpdate(purpose); err != nil {
		return err
	}
	yield(rc)
	return nil
}

// getStackable replaces the inputs with the stack of the first original
// input once the stack get request has been serviced.
func (g general) getStackable(_ context.Context, rc *engine.ReductionContext, yield func(*engine.ReductionContext) bool) error {
	purpose, err := paramString(rc, "purpose")
	if err != nil {
		return err
	}
	if err := rc.RequestStackGet(purpose); err != nil {
		return err
	}
	if !yield(rc) {
		return nil
	}
	orig := rc.OriginalInputs()
	if len(orig) == 0 {
		return nil
	}
	id, err := rc.StackableID(orig[0], purpose)
	if err != nil {
		return err
	}
	stack := rc.Stack(id)
	if len(stack) == 0 {
		return nil
	}
	rc.ClearInputs()
	rc.AddInputFiles(stack...)
	return nil
}

func (g general) getCalibration(_ context.Context, rc *engine.ReductionContext, yield func(*engine.ReductionContext) bool) error {
	caltype, err := paramString(rc, "caltype")
	if err != nil {
		return err
	}
	if caltype == "" {
		return fmt.Errorf("getCalibration: caltype is required")
	}
	source, err := paramString(rc, "source")
	if err != nil {
		return err
	}
	if err := rc.RequestCalibration(caltype, source); err != nil {
		return err
	}
	yield(rc)
	return nil
}

func (g general) display(_ context.Context, rc *engine.ReductionContext, yield func(*engine.ReductionContext) bool) error {
	id, err := paramString(rc, "displayID")
	if err != nil {
		return err
	}
	if err := rc.RequestDisplay(id); err != nil {
		return err
	}
	yield(rc)
	return nil
}

func (g general) pause(_ context.Context, rc *engine.ReductionContext, yield func(*engine.ReductionContext) bool) error {
	rc.RequestPause()
	yield(rc)
	return nil
}

func (g general) clearCache(_ context.Context, rc *engine.ReductionContext, yield func(*engine.ReductionContext) bool) error {
	rc.RequestClearCache()
	yield(rc)
	return nil
}

func (g general) storeOutputs(_ context.Context, rc *engine.ReductionContext, _ func(*engine.ReductionContext) bool) error {
	return rc.ReportOutput(engine.StandardOutputs, rc.Inputs()...)
}
