package harness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/reduce/internal/engine"
	"github.com/roach88/reduce/internal/ir"
	"github.com/roach88/reduce/internal/testutil"
)

// ScenarioSet is the name of the primitive set built from a scenario's
// scripted primitives.
const ScenarioSet = "SCENARIOPrimitives"

// ClockStep is how far the harness clock advances per reading.
const ClockStep = time.Second

// Harness runs one scenario. Scripted primitives report back through it.
type Harness struct {
	scenario *Scenario
	result   *Result
}

// Run executes a scenario and returns the result.
//
// The scenario recipe is bound on a fresh reduction object whose only
// primitive set holds the scripted primitives, and run through the
// driver's control loop with a fake clock and a fixed run id. The
// returned error is reserved for scenarios that cannot be set up; run
// failures and failed assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	h := &Harness{scenario: scenario, result: NewResult()}

	ro, err := h.reductionObject()
	if err != nil {
		return nil, err
	}
	ups, err := scenario.userParams()
	if err != nil {
		return nil, fmt.Errorf("user params: %w", err)
	}

	inputs := make([]ir.Dataset, len(scenario.Inputs))
	for i, in := range scenario.Inputs {
		inputs[i] = in.Dataset()
	}

	d := engine.NewDriver(nil,
		engine.WithDriverClock(testutil.NewFakeClock(testutil.Epoch, ClockStep)),
		engine.WithRunIDGenerator(engine.NewFixedGenerator(scenario.runID())),
		engine.WithDriverIdentifier(engine.MetaIdentifier{}),
	)
	job := engine.Job{
		Recipe:     scenario.Name,
		Source:     scenario.Recipe,
		AstroType:  scenario.astroType(),
		Inputs:     inputs,
		Globals:    scenario.Globals,
		Local:      scenario.Local,
		UserParams: ups,
		Object:     ro,
	}

	ro, err = d.CompileAndBind(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to bind recipe: %w", err)
	}
	rc, err := d.NewContext(ctx, ro, job)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	if err := rc.SetStatus(ir.StatusRunning); err != nil {
		return nil, err
	}

	var runErr error
	for _, err := range d.Advance(ctx, ro, job.Recipe, rc) {
		if err != nil {
			runErr = err
			break
		}
		h.result.Snapshots++
	}
	rc.Finish()

	h.result.History = rc.History()
	h.result.Report = rc.ReportHistory()
	h.result.Inputs = rc.InputFilenames()
	h.checkError(runErr)

	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) checkError(runErr error) {
	want := h.scenario.ExpectError
	switch {
	case runErr != nil:
		h.result.Err = runErr.Error()
		if want == "" {
			h.result.AddError(fmt.Sprintf("run failed: %v", runErr))
		} else if !strings.Contains(runErr.Error(), want) {
			h.result.AddError(fmt.Sprintf("run error %q does not contain %q", runErr.Error(), want))
		}
	case want != "":
		h.result.AddError(fmt.Sprintf("run succeeded, expected an error containing %q", want))
	}
}

// reductionObject builds the object holding the scripted primitives and
// the scenario's extra recipes.
func (h *Harness) reductionObject() (*engine.ReductionObject, error) {
	s := h.scenario
	ps := engine.NewPrimitiveSet(ScenarioSet, s.astroType())
	for _, name := range sortedKeys(s.Primitives) {
		ps.Register(name, h.step(name, s.Primitives[name]))
	}
	ps.MergeParams(s.paramTable())

	ro := engine.NewReductionObject(s.astroType())
	ro.AddPrimSet(ps)
	for _, name := range sortedKeys(s.Recipes) {
		if err := ro.BindSource(name, s.Recipes[name]); err != nil {
			return nil, fmt.Errorf("recipe %s: %w", name, err)
		}
	}
	return ro, nil
}

// step turns a scripted primitive into a step.
func (h *Harness) step(name string, p Primitive) engine.Step {
	return func(_ context.Context, rc *engine.ReductionContext, yield func(*engine.ReductionContext) bool) error {
		for _, param := range p.Capture {
			v, err := rc.Param(param)
			if err != nil {
				return err
			}
			h.result.capture(name, param, v)
		}

		for range p.Yields {
			if !yield(rc) {
				return nil
			}
		}

		for _, r := range p.Requests {
			if err := queue(rc, r); err != nil {
				return err
			}
			h.result.Requests = append(h.result.Requests, ir.RequestKind(r.Kind))
		}

		if p.Fail != "" {
			return errors.New(p.Fail)
		}

		var outputs []ir.Dataset
		if p.Suffix != "" {
			for _, in := range rc.Inputs() {
				outputs = append(outputs, ir.Dataset{
					Filename: withSuffix(in.Filename, p.Suffix),
					Parent:   in.Filename,
					Meta:     in.Meta,
				})
			}
		}
		for _, f := range p.Outputs {
			outputs = append(outputs, ir.NewDataset(f))
		}
		if len(outputs) > 0 {
			if err := rc.ReportOutput(engine.StandardOutputs, outputs...); err != nil {
				return err
			}
		}

		if p.Finish {
			rc.Finish()
		}
		return nil
	}
}

func queue(rc *engine.ReductionContext, r RequestSpec) error {
	switch ir.RequestKind(r.Kind) {
	case ir.RequestKindDisplay:
		return rc.RequestDisplay(r.ID)
	case ir.RequestKindStackUpdate:
		return rc.RequestStackUpdate(r.Purpose)
	case ir.RequestKindStackGet:
		return rc.RequestStackGet(r.Purpose)
	case ir.RequestKindClearCache:
		rc.RequestClearCache(r.Caches...)
		return nil
	default:
		return fmt.Errorf("unsupported request kind %q", r.Kind)
	}
}

// withSuffix inserts suffix before the extension: N1.fits -> N1_x.fits.
func withSuffix(filename, suffix string) string {
	ext := filepath.Ext(filename)
	return strings.TrimSuffix(filename, ext) + suffix + ext
}
