package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reduce/internal/ir"
)

type observed struct {
	kind ir.PrimSetKind
	step string
	err  error
}

type recordingObserver struct{ calls []observed }

func (o *recordingObserver) ObserveStep(kind ir.PrimSetKind, step string, _ time.Duration, err error) {
	o.calls = append(o.calls, observed{kind, step, err})
}

func TestReductionObject_LookupOrder(t *testing.T) {
	ro := NewReductionObject("GMOS_IMAGE")
	specific := ro.NewPrimitiveSet("GMOS_IMAGEPrimitives", ir.PrimSetKindPrimitives)
	general := ro.NewPrimitiveSet("GMOSPrimitives", ir.PrimSetKindPrimitives)
	specific.Register("stepA", noop)
	general.Register("stepA", noop).Register("stepB", noop)

	ps, ok := ro.PrimSet("stepA")
	require.True(t, ok)
	assert.Equal(t, "GMOS_IMAGEPrimitives", ps.Name)

	ps, ok = ro.PrimSet("stepB")
	require.True(t, ok)
	assert.Equal(t, "GMOSPrimitives", ps.Name)

	_, ok = ro.PrimSet("stepC")
	assert.False(t, ok)

	// Recipe sets go in front.
	require.NoError(t, ro.BindSource("r", "stepA"))
	assert.Equal(t, "RECIPE", ro.PrimSets()[0].Name)
	assert.Len(t, ro.PrimSets(), 3)
}

func TestReductionObject_ParamTable(t *testing.T) {
	ro, ps := newTestObject(map[string]Step{"stepA": noop})
	ps.MergeParams(ir.ParamTable{"stepA": {"p": {Default: "d", HasDefault: true}}})

	table := ro.ParamTable("stepA")
	_, ok := table.Lookup("stepA", "p")
	assert.True(t, ok)
	assert.Nil(t, ro.ParamTable("missing"))
}

func TestPrimitiveSet_Names(t *testing.T) {
	ps := NewPrimitiveSet("S", "GMOS")
	ps.Register("b", noop).Register("a", noop)
	assert.Equal(t, []string{"a", "b"}, ps.Names())
	assert.Equal(t, ir.PrimSetKindPrimitives, ps.Kind)
}

func TestReductionObject_SubstepsBrackets(t *testing.T) {
	ro, _ := newTestObject(map[string]Step{"stepA": yieldingStep(2)})
	rc := newTestContext(t)

	snaps := drain(t, ro.Substeps(context.Background(), "stepA", rc))
	assert.Len(t, snaps, 2)

	hist := rc.History()
	require.Len(t, hist, 2)
	assert.Equal(t, ir.MarkBegin, hist[0].Mark)
	assert.Equal(t, ir.MarkEnd, hist[1].Mark)
}

func TestReductionObject_SubstepsStoppedEarlySkipsEnd(t *testing.T) {
	ro, _ := newTestObject(map[string]Step{"stepA": yieldingStep(3)})
	rc := newTestContext(t)

	for range ro.Substeps(context.Background(), "stepA", rc) {
		break
	}
	hist := rc.History()
	require.Len(t, hist, 1)
	assert.Equal(t, ir.MarkBegin, hist[0].Mark)
}

func TestReductionObject_StepObserver(t *testing.T) {
	obs := &recordingObserver{}
	boom := errors.New("boom")
	ro, _ := newTestObject(map[string]Step{
		"ok":   noop,
		"fail": func(context.Context, *ReductionContext, func(*ReductionContext) bool) error { return boom },
	}, WithStepObserver(obs))
	rc := newTestContext(t)

	require.NoError(t, ro.Run(context.Background(), "ok", rc))
	err := ro.Run(context.Background(), "fail", rc)
	assert.True(t, ir.IsStepError(err))

	require.Len(t, obs.calls, 2)
	assert.Equal(t, observed{ir.PrimSetKindPrimitives, "ok", nil}, obs.calls[0])
	assert.Equal(t, "fail", obs.calls[1].step)
	assert.ErrorIs(t, obs.calls[1].err, boom)
}

func TestReductionObject_MaxDepth(t *testing.T) {
	ro := NewReductionObject("GENERIC", WithMaxDepth(3))
	require.NoError(t, ro.BindSource("a", "b"))
	require.NoError(t, ro.BindSource("b", "a"))

	err := ro.Run(context.Background(), "a", newTestContext(t))
	assert.True(t, IsDepthExceededError(err))
}
