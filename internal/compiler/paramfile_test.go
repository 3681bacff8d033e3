package compiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reduce/internal/ir"
)

func knownTypes(names ...string) TypeOracle {
	set := map[string]bool{}
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func TestParseParamFile(t *testing.T) {
	src := `# user settings
suffix = "_r"
--files = a.fits b.fits
--files=c.fits
--verbose
--logfile=run.log

[GMOS_IMAGE]
[biasCorrect]
overscan = false
nlow = 2

[]
threshold = 4
`
	pf, err := ParseParamFile("user.par", strings.NewReader(src), knownTypes("GMOS_IMAGE"))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"suffix": "_r", "threshold": "4"}, pf.Globals)
	assert.Equal(t, []string{"a.fits", "b.fits", "c.fits"}, pf.Files)
	assert.Equal(t, map[string]string{"verbose": "true", "logfile": "run.log"}, pf.Options)
	assert.Equal(t, []ir.UserParam{
		{AstroType: "GMOS_IMAGE", Primitive: "biasCorrect", Param: "overscan", Value: "false"},
		{AstroType: "GMOS_IMAGE", Primitive: "biasCorrect", Param: "nlow", Value: "2"},
	}, pf.UserParams)
}

func TestParseParamFileTypeKeepsPrimitive(t *testing.T) {
	src := "[biasCorrect]\n[GMOS]\nx=1\n[NIRI]\nx=2\n"
	pf, err := ParseParamFile("p", strings.NewReader(src), knownTypes("GMOS", "NIRI"))
	require.NoError(t, err)

	require.Len(t, pf.UserParams, 2)
	assert.Equal(t, "GMOS", pf.UserParams[0].AstroType)
	assert.Equal(t, "NIRI", pf.UserParams[1].AstroType)
	assert.Equal(t, "biasCorrect", pf.UserParams[1].Primitive)
}

func TestParseParamFileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"no equals", "a = 1\njunk\n", 2, "badly formatted parameter file"},
		{"primitive only", "[biasCorrect]\nx=1\n", 2, `the primitive name is set to "biasCorrect", but the astrotype is not set`},
		{"type only", "[GMOS]\nx=1\n", 2, `the astrotype is set to "GMOS", but the primitive name is not set`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseParamFile("bad.par", strings.NewReader(tt.src), knownTypes("GMOS"))
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.line, ce.Line)
			assert.Contains(t, ce.Message, tt.msg)
			assert.True(t, ir.HasCode(err, ir.ErrCodeMalformedParamFile))
		})
	}
}

func TestParseParamFlag(t *testing.T) {
	ups, globals, err := ParseParamFlag(`GMOS:biasCorrect:suffix="_x", clobber=true`)
	require.NoError(t, err)

	assert.Equal(t, []ir.UserParam{{AstroType: "GMOS", Primitive: "biasCorrect", Param: "suffix", Value: "_x"}}, ups)
	assert.Equal(t, map[string]string{"clobber": "true"}, globals)
}

func TestParseParamFlagErrors(t *testing.T) {
	_, _, err := ParseParamFlag("noequals")
	assert.True(t, ir.HasCode(err, ir.ErrCodeBadParamValue))

	_, _, err = ParseParamFlag("GMOS:suffix=x")
	assert.True(t, ir.HasCode(err, ir.ErrCodeBadParamValue))
}
