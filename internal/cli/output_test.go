package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reduce/internal/compiler"
	"github.com/roach88/reduce/internal/engine"
	"github.com/roach88/reduce/internal/ir"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "compile error",
			err:  &compiler.CompileError{Code: ir.ErrCodeMalformedRecipe, File: "recipe.r", Line: 2, Message: "unbalanced parenthesis"},
			want: "MALFORMED_RECIPE",
		},
		{
			name: "wrapped configuration error",
			err:  fmt.Errorf("collate: %w", &ir.ConfigurationError{Code: ir.ErrCodeFixedParameter}),
			want: "FIXED_PARAMETER",
		},
		{
			name: "resolution error",
			err:  &ir.ResolutionError{Code: ir.ErrCodeRecipeNotFound, Name: "reduce"},
			want: "RECIPE_NOT_FOUND",
		},
		{
			name: "step failure",
			err:  &ir.StepError{Primitive: "stack", Err: errors.New("disk full")},
			want: ErrCodeStepFailed,
		},
		{
			name: "step failure carrying a taxonomy code",
			err:  &ir.StepError{Primitive: "stack", Err: &ir.ConfigurationError{Code: ir.ErrCodeBadParamValue}},
			want: "BAD_PARAM_VALUE",
		},
		{
			name: "service failure",
			err:  &ir.ServiceError{Kind: ir.RequestKindStackUpdate, Message: "persist", Err: errors.New("locked")},
			want: ErrCodeServiceFail,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: ErrCodeGeneric,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitCommandError, GetExitCode(fmt.Errorf("run: %w", NewExitError(ExitCommandError, "bad flag"))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
}

func TestOutputFormatter_FailJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}
	cause := &ir.ResolutionError{Code: ir.ErrCodeRecipeNotFound, Message: "no recipe named reduce", Name: "reduce"}

	err := f.Fail(ExitFailure, "reduction failed", cause)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, ExitFailure, exitErr.Code)
	assert.ErrorIs(t, err, cause)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "RECIPE_NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "reduction failed: RECIPE_NOT_FOUND: no recipe named reduce", resp.Error.Message)
	assert.Nil(t, resp.Data)
	assert.Empty(t, resp.RunID)
}

func TestOutputFormatter_FailText(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	err := f.Fail(ExitCommandError, "invalid run arguments", errors.New("no input files"))

	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "Error [ERROR]: invalid run arguments: no input files\n", buf.String())
}

func TestOutputFormatter_SuccessRunCarriesRunID(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.SuccessRun("run-7", []string{"N1_stack.fits"}))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-7", resp.RunID)

	buf.Reset()
	require.NoError(t, f.Success("done"))
	assert.NotContains(t, buf.String(), "run_id")
}

func TestOutputFormatter_VerboseLogGoesToErrWriter(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag}

	f.VerboseLog("hidden %d", 1)
	assert.Empty(t, diag.String())

	f.Verbose = true
	f.VerboseLog("loaded %d recipes", 3)
	assert.Empty(t, out.String())
	assert.Equal(t, "loaded 3 recipes\n", diag.String())
}

// finishedRun returns a finished context whose last step produced
// N1_stack.fits.
func finishedRun(t *testing.T) *engine.ReductionContext {
	t.Helper()
	rc := engine.NewReductionContext(engine.WithRunID("run-7"), engine.WithHostname("test-host"))
	rc.AddInput(ir.NewDataset("data/N1.fits"))
	rc.Begin("stack")
	require.NoError(t, rc.ReportOutput(engine.StandardOutputs, ir.NewDataset("data/N1_stack.fits")))
	rc.End("stack")
	rc.Finish()
	return rc
}

func TestOutputRuns_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, outputRuns(f, []*engine.ReductionContext{finishedRun(t), nil}, true))

	var runs []RunSummary
	decodeData(t, buf.String(), &runs)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-7", runs[0].RunID)
	assert.Equal(t, ir.StatusFinished, runs[0].Status)
	assert.Equal(t, []string{"data/N1_stack.fits"}, runs[0].Outputs)
	require.Len(t, runs[0].History, 2)
	assert.Equal(t, ir.MarkBegin, runs[0].History[0].Mark)
	assert.Equal(t, ir.MarkEnd, runs[0].History[1].Mark)
}

func TestOutputRuns_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, outputRuns(f, []*engine.ReductionContext{finishedRun(t)}, false))

	assert.Equal(t, "✓ Run run-7 finished\n  output: data/N1_stack.fits\n", buf.String())
}
