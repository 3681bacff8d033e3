package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reduce/internal/ir"
)

func TestParseRecipeBasic(t *testing.T) {
	src := `
# standard imaging reduction
prepare
biasCorrect(suffix="_b", overscan)   # trailing comment
display(displayID=[dispid])
`
	prog, err := ParseRecipe("reduceImage", src)
	require.NoError(t, err)

	assert.Equal(t, "reduceImage", prog.Name)
	require.Len(t, prog.Instructions, 3)

	first := prog.Instructions[0]
	assert.Equal(t, ir.OpConditionalInvoke, first.Op)
	assert.Equal(t, "prepare", first.Primitive)
	assert.Nil(t, first.Args)
	assert.Equal(t, 3, first.LineNo)
	assert.Equal(t, []string{"prepare"}, first.ConditionalKeys)

	bias := prog.Instructions[1]
	assert.Equal(t, "biasCorrect", bias.Primitive)
	assert.Equal(t, `biasCorrect(suffix="_b", overscan)`, bias.Line)
	assert.Equal(t, ir.StringArg("_b"), bias.Args["suffix"])
	assert.Equal(t, ir.FlagArg(), bias.Args["overscan"])
	assert.Equal(t, []string{`biasCorrect(suffix="_b", overscan)`, "biasCorrect"}, bias.ConditionalKeys)

	disp := prog.Instructions[2]
	assert.Equal(t, "[dispid]", disp.Args["displayID"].Str)
}

func TestParseRecipeEmptyArgList(t *testing.T) {
	prog, err := ParseRecipe("r", "showInputs()")
	require.NoError(t, err)
	require.Len(t, prog.Instructions, 1)
	assert.Equal(t, "showInputs", prog.Instructions[0].Primitive)
	assert.Nil(t, prog.Instructions[0].Args)
}

func TestParseRecipeQuotedComma(t *testing.T) {
	prog, err := ParseRecipe("r", `addKeyword(value="a,b", comment='x')`)
	require.NoError(t, err)

	args := prog.Instructions[0].Args
	assert.Equal(t, "a,b", args["value"].Str)
	assert.Equal(t, "x", args["comment"].Str)
}

func TestParseRecipeEmptySource(t *testing.T) {
	prog, err := ParseRecipe("r", "")
	require.NoError(t, err)
	assert.Empty(t, prog.Instructions)
}

func TestParseRecipeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"unbalanced", "prepare)", 1, "unbalanced parenthesis"},
		{"trailing text", "prepare\nbias(a=1) extra", 2, "argument list must close the line"},
		{"bad name", "9lives", 1, "invalid primitive name"},
		{"nested", "f(a=g(1))", 1, "nested parentheses"},
		{"bad arg", "f(a b=1)", 1, "invalid argument name"},
		{"open quote", `f(a="x)`, 1, "unterminated quote"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecipe("broken", tt.src)
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.line, ce.Line)
			assert.Contains(t, ce.Message, tt.msg)
			assert.True(t, ir.HasCode(err, ir.ErrCodeMalformedRecipe))
		})
	}
}

func TestIndirectKey(t *testing.T) {
	key, ok := IndirectKey("[dispid]")
	assert.True(t, ok)
	assert.Equal(t, "dispid", key)

	key, ok = IndirectKey("[]")
	assert.True(t, ok)
	assert.Empty(t, key)

	_, ok = IndirectKey("plain")
	assert.False(t, ok)
}

func TestCompileErrorString(t *testing.T) {
	e := &CompileError{File: "r", Line: 3, Message: "boom"}
	assert.Equal(t, "r:3: boom", e.Error())

	e = &CompileError{Message: "boom"}
	assert.Equal(t, "boom", e.Error())

	e = &CompileError{File: "f.cue", Field: "parameters.x", Message: "boom"}
	assert.Equal(t, "f.cue: parameters.x: boom", e.Error())
}
