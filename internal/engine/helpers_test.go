package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/reduce/internal/ir"
	"github.com/roach88/reduce/internal/testutil"
)

// dataset returns a dataset whose identity comes from header keywords,
// so MetaIdentifier can identify it without a file.
func dataset(name string) ir.Dataset {
	return ir.Dataset{Filename: name, Meta: map[string]string{"OBSID": name}}
}

func newTestContext(t *testing.T, opts ...ContextOption) *ReductionContext {
	t.Helper()
	base := []ContextOption{
		WithRunID("run-1"),
		WithHostname("test-host"),
		WithWallClock(testutil.NewFakeClock(time.Time{}, time.Second)),
		WithIdentifier(MetaIdentifier{}),
	}
	return NewReductionContext(append(base, opts...)...)
}

// noop is a step that does nothing and never yields.
func noop(context.Context, *ReductionContext, func(*ReductionContext) bool) error {
	return nil
}

// suffixStep reports every input renamed with suffix as an output.
func suffixStep(suffix string) Step {
	return func(_ context.Context, rc *ReductionContext, _ func(*ReductionContext) bool) error {
		for _, in := range rc.Inputs() {
			name := strings.TrimSuffix(in.Filename, ".fits") + suffix + ".fits"
			out := dataset(name)
			out.Parent = in.Filename
			if err := rc.ReportOutput(StandardOutputs, out); err != nil {
				return err
			}
		}
		return nil
	}
}

// yieldingStep yields n times.
func yieldingStep(n int) Step {
	return func(_ context.Context, rc *ReductionContext, yield func(*ReductionContext) bool) error {
		for i := 0; i < n; i++ {
			if !yield(rc) {
				return nil
			}
		}
		return nil
	}
}

// recorder collects the step-local overlay each step saw.
type recorder struct {
	calls []string
	seen  []map[string]any
}

func (r *recorder) step(name string) Step {
	return func(_ context.Context, rc *ReductionContext, _ func(*ReductionContext) bool) error {
		r.calls = append(r.calls, name)
		r.seen = append(r.seen, rc.LocalParams())
		return nil
	}
}

// newTestObject builds a reduction object with one primitive set holding
// the given steps.
func newTestObject(steps map[string]Step, opts ...ROOption) (*ReductionObject, *PrimitiveSet) {
	ro := NewReductionObject("GENERIC", opts...)
	ps := ro.NewPrimitiveSet("GENERICPrimitives", ir.PrimSetKindPrimitives)
	for name, s := range steps {
		ps.Register(name, s)
	}
	return ro, ps
}

// drain collects every snapshot of seq, failing the test on error.
func drain(t *testing.T, seq func(func(*ReductionContext, error) bool)) []*ReductionContext {
	t.Helper()
	var snaps []*ReductionContext
	for snap, err := range seq {
		require.NoError(t, err)
		snaps = append(snaps, snap)
	}
	return snaps
}

// memCalStore is an in-memory CalibrationStore.
type memCalStore struct {
	index map[ir.CalKey]ir.CalibrationRecord
	saves int
}

func newMemCalStore() *memCalStore {
	return &memCalStore{index: map[ir.CalKey]ir.CalibrationRecord{}}
}

func (m *memCalStore) LoadCalibrations(context.Context) (map[ir.CalKey]ir.CalibrationRecord, error) {
	out := make(map[ir.CalKey]ir.CalibrationRecord, len(m.index))
	for k, v := range m.index {
		out[k] = v
	}
	return out, nil
}

func (m *memCalStore) SaveCalibrations(_ context.Context, index map[ir.CalKey]ir.CalibrationRecord, removed ...ir.CalKey) error {
	for k, v := range index {
		m.index[k] = v
	}
	for _, k := range removed {
		if _, ok := index[k]; !ok {
			delete(m.index, k)
		}
	}
	m.saves++
	return nil
}
