package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reduce/internal/ir"
)

func programs(t *testing.T, sources map[string]string) map[string]*ir.Program {
	t.Helper()
	progs := map[string]*ir.Program{}
	for name, src := range sources {
		prog, err := ParseRecipe(name, src)
		require.NoError(t, err)
		progs[name] = prog
	}
	return progs
}

func TestAnalyzeCycles_Empty(t *testing.T) {
	assert.Empty(t, AnalyzeCycles(nil))
}

func TestAnalyzeCycles_DAG(t *testing.T) {
	progs := programs(t, map[string]string{
		"reduce":  "prepare\nbiasCorrect\nstack",
		"prepare": "showInputs\naddVAR",
		"stack":   "getStackable\nstackFrames",
	})
	assert.Empty(t, AnalyzeCycles(progs))
}

func TestAnalyzeCycles_SelfLoop(t *testing.T) {
	progs := programs(t, map[string]string{
		"again": "step\nagain",
	})
	warnings := AnalyzeCycles(progs)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"again", "again"}, warnings[0].Path)
	assert.Equal(t, "recipe cycle: again -> again", warnings[0].Message)
}

func TestAnalyzeCycles_MultiNode(t *testing.T) {
	progs := programs(t, map[string]string{
		"a":     "b\nstep",
		"b":     "c",
		"c":     "a",
		"other": "a",
	})
	warnings := AnalyzeCycles(progs)
	require.Len(t, warnings, 1)
	assert.Equal(t, []string{"a", "b", "c", "a"}, warnings[0].Path)
}

func TestAnalyzeCycles_SeparateLoopsOrdered(t *testing.T) {
	progs := programs(t, map[string]string{
		"y": "z",
		"z": "y",
		"m": "m",
	})
	warnings := AnalyzeCycles(progs)
	require.Len(t, warnings, 2)
	assert.Equal(t, []string{"m", "m"}, warnings[0].Path)
	assert.Equal(t, []string{"y", "z", "y"}, warnings[1].Path)
}
