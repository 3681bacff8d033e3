package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reduce/internal/ir"
	"github.com/roach88/reduce/internal/testutil"
)

func testRun(id string, started time.Time) ir.RunRecord {
	return ir.RunRecord{
		ID:        id,
		Recipe:    "reduce",
		AstroType: "GMOS_IMAGE",
		Hostname:  "test-host",
		Status:    ir.StatusFinished,
		Started:   started,
		Finished:  started.Add(time.Minute),
	}
}

func testHistory() []ir.HistoryEntry {
	t0 := testutil.Epoch
	return []ir.HistoryEntry{
		{Seq: 1, Time: t0, Step: "biasCorrect", Mark: ir.MarkBegin, Inputs: []string{"N1.fits"}, Outputs: []string{}},
		{Seq: 2, Time: t0, Step: "biasCorrect", Mark: ir.MarkEnd, Inputs: []string{"N1_bias.fits"}, Outputs: []string{}},
		{Seq: 3, Time: t0.Add(time.Second), Step: "stack", Mark: ir.MarkBegin, Depth: 1, Inputs: []string{"N1_bias.fits"}, Outputs: []string{}},
		{Seq: 4, Time: t0.Add(2 * time.Second), Step: "stack", Mark: ir.MarkEnd, Depth: 1, Inputs: []string{"N1_stack.fits"}, Outputs: []string{}},
	}
}

func TestSaveRun_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	run := testRun("run-1", testutil.Epoch)
	run.Error = "stack failed"
	run.Status = ir.StatusFinished

	require.NoError(t, s.SaveRun(ctx, run, testHistory()))

	got, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "reduce", got.Recipe)
	assert.Equal(t, "GMOS_IMAGE", got.AstroType)
	assert.Equal(t, "test-host", got.Hostname)
	assert.Equal(t, ir.StatusFinished, got.Status)
	assert.Equal(t, "stack failed", got.Error)
	assert.True(t, run.Started.Equal(got.Started))
	assert.True(t, run.Finished.Equal(got.Finished))

	rows, err := s.ReadHistory(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	for i, r := range rows {
		assert.Equal(t, "run-1", r.RunID)
		assert.NotZero(t, r.ID)
		assert.Equal(t, testHistory()[i].Seq, r.Seq)
	}
	entries := Entries(rows)
	assert.Equal(t, "stack", entries[3].Step)
	assert.Equal(t, ir.MarkEnd, entries[3].Mark)
	assert.Equal(t, 1, entries[3].Depth)
	assert.Equal(t, []string{"N1_stack.fits"}, entries[3].Inputs)
	assert.Equal(t, []string{}, entries[3].Outputs)
	assert.True(t, testutil.Epoch.Add(2*time.Second).Equal(entries[3].Time))
}

func TestSaveRun_OrdersBySeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	h := testHistory()
	reversed := []ir.HistoryEntry{h[3], h[2], h[1], h[0]}
	require.NoError(t, s.SaveRun(ctx, testRun("run-1", testutil.Epoch), reversed))

	rows, err := s.ReadHistory(ctx, "run-1")
	require.NoError(t, err)
	var seqs []int64
	for _, r := range rows {
		seqs = append(seqs, r.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3, 4}, seqs)
}

func TestSaveRun_ReplacesHistory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, testRun("run-1", testutil.Epoch), testHistory()))
	run := testRun("run-1", testutil.Epoch)
	run.Recipe = "reduceAgain"
	require.NoError(t, s.SaveRun(ctx, run, testHistory()[:2]))

	got, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "reduceAgain", got.Recipe)

	rows, err := s.ReadHistory(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestReadRun_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.ReadRun(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestReadHistory_UnknownRun(t *testing.T) {
	s := createTestStore(t)
	rows, err := s.ReadHistory(context.Background(), "missing")
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestListRuns(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, s.SaveRun(ctx, testRun(id, testutil.Epoch.Add(time.Duration(i)*time.Hour)), nil))
	}

	all, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "run-c", all[0].ID)
	assert.Equal(t, "run-a", all[2].ID)

	recent, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "run-b", recent[1].ID)
}
