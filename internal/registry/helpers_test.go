package registry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/reduce/internal/engine"
	"github.com/roach88/reduce/internal/ir"
)

// writeTree writes files (relative path -> content) under a fresh
// directory and returns it.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

// gmosTree is a small GMOS recipe library.
var gmosTree = map[string]string{
	"astrotypes.gemini.cue": `
astrotypes: {
	GEMINI: {}
	GMOS: parents: ["GEMINI"]
	GMOS_IMAGE: parents: ["GMOS"]
	GMOS_SPECT: parents: ["GMOS"]
	GNIRS: parents: ["GEMINI"]
}
`,
	"primitives/primitivesIndex.gmos.cue": `
localPrimitiveIndex: {
	GMOS_IMAGE: [
		{file: "primitives_GMOS_IMAGE.cue", set: "GMOS_IMAGEPrimitives"},
		{file: "primitives_GMOS.cue", set: "GMOSPrimitives"},
	]
	GMOS: [{file: "primitives_GMOS.cue", set: "GMOSPrimitives"}]
}
`,
	"primitives/primitives_GMOS.cue": `
parameters: {
	biasCorrect: {
		suffix: {default: "_biasCorrected", type: "str"}
	}
}
`,
	"primitives/primitives_GMOS_IMAGE.cue": `
parameters: {
	fringeCorrect: {
		suffix: {default: "_fringeCorrected", type: "str", userOverride: false}
	}
}
`,
	"recipes/recipe.reduce":            "biasCorrect\n",
	"recipes/recipe.reduce.GMOS_IMAGE": "biasCorrect\nfringeCorrect\n",
	"recipes/recipeIndex.gmos.cue": `
localAstroTypeRecipeIndex: {
	GMOS_IMAGE: ["reduce", "makeFringe"]
	GMOS: ["reduce"]
}
`,
	"parameters/parameters.fast.cue": `
localParameterIndex: {
	nsigma: 3
	mode:   "fast"
}
`,
	"parameters/parametersIndex.gmos.cue": `
localParameterTypeIndex: {
	GMOS: ["fast"]
}
`,
}

// suffixStep renames every input with the suffix parameter.
func suffixStep(_ context.Context, rc *engine.ReductionContext, _ func(*engine.ReductionContext) bool) error {
	suffix, _ := rc.GetString("suffix")
	for _, in := range rc.Inputs() {
		out := ir.Dataset{
			Filename: strings.TrimSuffix(in.Filename, ".fits") + suffix + ".fits",
			Parent:   in.Filename,
			Meta:     in.Meta,
		}
		if err := rc.ReportOutput(engine.StandardOutputs, out); err != nil {
			return err
		}
	}
	return nil
}

func registerGMOS(r *Registry) {
	r.RegisterFactory("GMOSPrimitives", func() *engine.PrimitiveSet {
		return engine.NewPrimitiveSet("GMOSPrimitives", "GMOS").Register("biasCorrect", suffixStep)
	})
	r.RegisterFactory("GMOS_IMAGEPrimitives", func() *engine.PrimitiveSet {
		return engine.NewPrimitiveSet("GMOS_IMAGEPrimitives", "GMOS_IMAGE").Register("fringeCorrect", suffixStep)
	})
}

func buildGMOS(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r, err := Build([]string{writeTree(t, gmosTree)}, opts...)
	require.NoError(t, err)
	registerGMOS(r)
	return r
}

func gmosDataset(name string) ir.Dataset {
	return ir.Dataset{Filename: name, Meta: map[string]string{"OBSID": name, "INSTRUME": "GMOS-N"}}
}
