package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one primitive"
recipe: prepare
inputs: [N1.fits]
primitives:
  prepare: {}
assertions:
  - type: history_count
    step: prepare
    count: 1
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "minimal.yaml", minimalScenario)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	assert.Equal(t, "one primitive", scenario.Description)
	assert.Equal(t, "prepare", scenario.Recipe)
	require.Len(t, scenario.Inputs, 1)
	assert.Equal(t, "N1.fits", scenario.Inputs[0].File)
	assert.Contains(t, scenario.Primitives, "prepare")
	assert.Len(t, scenario.Assertions, 1)
	assert.Equal(t, DefaultAstroType, scenario.astroType())
	assert.Equal(t, "run-minimal", scenario.runID())
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_InputForms(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: forms
description: "scalar and mapping inputs"
recipe: prepare
inputs:
  - N1.fits
  - file: N2.fits
    meta: {OBSID: GN-1, INSTRUME: GMOS-N}
assertions:
  - type: snapshots
    count: 1
`))
	require.NoError(t, err)
	require.Len(t, scenario.Inputs, 2)

	first := scenario.Inputs[0].Dataset()
	assert.Equal(t, "N1.fits", first.Filename)
	assert.Empty(t, first.Meta)

	second := scenario.Inputs[1].Dataset()
	assert.Equal(t, "N2.fits", second.Filename)
	assert.Equal(t, "GN-1", second.Meta["OBSID"])
}

func TestParseScenario_ParamTableAndUserParams(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: decls
description: "parameter declarations"
recipe: stack
user_params: ["SCENARIO:stack:nsigma=4"]
params:
  stack:
    nsigma: {default: 3, type: int}
    fixed: {type: str, user_override: false}
assertions:
  - type: snapshots
    count: 1
`))
	require.NoError(t, err)

	table := scenario.paramTable()
	nsigma := table["stack"]["nsigma"]
	assert.Equal(t, 3, nsigma.Default)
	assert.True(t, nsigma.HasDefault)
	assert.Equal(t, "int", nsigma.Type)
	fixed := table["stack"]["fixed"]
	assert.False(t, fixed.HasDefault)
	assert.False(t, fixed.UserOverridable())

	ups, err := scenario.userParams()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"nsigma": "4"}, ups.Get("SCENARIO", "stack"))
}

func TestParseScenario_UserParamMustBeScoped(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: unscoped
description: "user param without scope"
recipe: stack
user_params: ["nsigma=4"]
assertions:
  - type: snapshots
    count: 1
`))
	require.NoError(t, err)

	_, err = scenario.userParams()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TYPE:primitive:param=value")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "unknown field",
			content: minimalScenario + "assertion: []\n",
			errMsg:  "failed to parse YAML",
		},
		{
			name: "missing name",
			content: `
description: "x"
recipe: prepare
assertions: [{type: snapshots, count: 1}]
`,
			errMsg: "name is required",
		},
		{
			name: "name with slash",
			content: `
name: a/b
description: "x"
recipe: prepare
assertions: [{type: snapshots, count: 1}]
`,
			errMsg: "usable as a file name",
		},
		{
			name: "missing description",
			content: `
name: x
recipe: prepare
assertions: [{type: snapshots, count: 1}]
`,
			errMsg: "description is required",
		},
		{
			name: "missing recipe",
			content: `
name: x
description: "x"
assertions: [{type: snapshots, count: 1}]
`,
			errMsg: "recipe is required",
		},
		{
			name: "no assertions",
			content: `
name: x
description: "x"
recipe: prepare
`,
			errMsg: "assertions list is required",
		},
		{
			name: "input without file",
			content: `
name: x
description: "x"
recipe: prepare
inputs: [{meta: {OBSID: a}}]
assertions: [{type: snapshots, count: 1}]
`,
			errMsg: "inputs[0]: file is required",
		},
		{
			name: "negative yields",
			content: `
name: x
description: "x"
recipe: prepare
primitives:
  prepare: {yields: -1}
assertions: [{type: snapshots, count: 1}]
`,
			errMsg: "yields must be non-negative",
		},
		{
			name: "bad request kind",
			content: `
name: x
description: "x"
recipe: prepare
primitives:
  prepare:
    requests: [{kind: calibration}]
assertions: [{type: snapshots, count: 1}]
`,
			errMsg: `unsupported request kind "calibration"`,
		},
		{
			name: "unknown assertion type",
			content: `
name: x
description: "x"
recipe: prepare
assertions: [{type: trace_contains}]
`,
			errMsg: `unknown assertion type "trace_contains"`,
		},
		{
			name: "history_count without step",
			content: `
name: x
description: "x"
recipe: prepare
assertions: [{type: history_count, count: 1}]
`,
			errMsg: "step is required for history_count",
		},
		{
			name: "history_order without steps",
			content: `
name: x
description: "x"
recipe: prepare
assertions: [{type: history_order}]
`,
			errMsg: "steps list is required",
		},
		{
			name: "inputs without files",
			content: `
name: x
description: "x"
recipe: prepare
assertions: [{type: inputs}]
`,
			errMsg: "files is required for inputs",
		},
		{
			name: "param without param name",
			content: `
name: x
description: "x"
recipe: prepare
assertions: [{type: param, step: prepare}]
`,
			errMsg: "step and param are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadDir(t *testing.T) {
	scenarios, err := LoadDir("testdata/scenarios")
	require.NoError(t, err)

	var names []string
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"failure", "imaging", "nested", "override_error", "params", "skip"}, names)
}

func TestLoadDir_DuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "a.yaml", minimalScenario)
	writeScenario(t, dir, "b.yaml", minimalScenario)

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `scenario "minimal" already defined in a.yaml`)
}
