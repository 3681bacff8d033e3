package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reduce/internal/engine"
	"github.com/roach88/reduce/internal/ir"
)

func TestBuild_IndexesRecipeLibrary(t *testing.T) {
	r := buildGMOS(t)

	assert.Equal(t, []string{"reduce", "reduce.GMOS_IMAGE"}, r.RecipeNames())
	assert.Len(t, r.RecipeIndex(), 2)
	assert.Equal(t, []string{"reduce", "makeFringe"}, r.ApplicableRecipes("GMOS_IMAGE"))
	assert.Equal(t, []string{"reduce", "makeFringe", "reduce"}, r.ApplicableRecipes("GMOS_IMAGE", "GMOS", "GNIRS"))
	assert.Equal(t, map[string][]string{"GMOS": {"reduce"}}, r.ApplicableRecipesByType("GMOS", "GNIRS"))

	assert.Equal(t, []string{"fast"}, r.ApplicableParameters("GMOS"))
	assert.Empty(t, r.ApplicableParameters("GMOS_IMAGE"))
	fast, ok := r.Parameters("fast")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"nsigma": int64(3), "mode": "fast"}, fast)
	assert.Equal(t, []string{"fast"}, r.ParameterSetNames())
	_, ok = r.Parameters("slow")
	assert.False(t, ok)

	assert.True(t, r.Types().IsAncestor("GEMINI", "GMOS_IMAGE"))
}

func TestRegistry_RetrieveRecipe(t *testing.T) {
	r := buildGMOS(t)

	tests := []struct {
		name      string
		recipe    string
		astrotype string
		inherit   bool
		want      string
		found     bool
	}{
		{"type specific", "reduce", "GMOS_IMAGE", true, "biasCorrect\nfringeCorrect\n", true},
		{"type specific without inherit", "reduce", "GMOS_IMAGE", false, "biasCorrect\nfringeCorrect\n", true},
		{"inherits generic", "reduce", "GMOS", true, "biasCorrect\n", true},
		{"no inherit", "reduce", "GMOS", false, "", false},
		{"generic", "reduce", "", false, "biasCorrect\n", true},
		{"missing", "makeFringe", "GMOS_IMAGE", true, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, found, err := r.RetrieveRecipe(tt.recipe, tt.astrotype, tt.inherit)
			require.NoError(t, err)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.want, src)
		})
	}
}

func TestBuild_DuplicateRecipe(t *testing.T) {
	a := writeTree(t, map[string]string{"recipe.reduce": "stepA\n"})
	b := writeTree(t, map[string]string{"recipe.reduce": "stepB\n"})

	t.Run("different files", func(t *testing.T) {
		_, err := Build([]string{a, b})
		require.Error(t, err)
		assert.True(t, ir.HasCode(err, ir.ErrCodeDuplicateRecipe))
	})

	t.Run("same file twice", func(t *testing.T) {
		r, err := Build([]string{a, a})
		require.NoError(t, err)
		assert.Equal(t, []string{"reduce"}, r.RecipeNames())
	})

	t.Run("symlinked file", func(t *testing.T) {
		link := t.TempDir()
		require.NoError(t, os.Symlink(filepath.Join(a, "recipe.reduce"), filepath.Join(link, "recipe.reduce")))
		_, err := Build([]string{a, link})
		require.NoError(t, err)
	})
}

func TestBuild_DuplicatePrimitiveIndexAppends(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a/primitivesIndex.a.cue": `localPrimitiveIndex: GMOS: [{file: "primitives_A.cue", set: "APrimitives"}]`,
		"b/primitivesIndex.b.cue": `localPrimitiveIndex: GMOS: [{file: "primitives_B.cue", set: "BPrimitives"}]`,
		"a/primitives_A.cue":      `parameters: {}`,
		"b/primitives_B.cue":      `parameters: {}`,
	})
	r, err := Build([]string{root})
	require.NoError(t, err)
	for _, name := range []string{"APrimitives", "BPrimitives"} {
		r.RegisterFactory(name, func() *engine.PrimitiveSet { return engine.NewPrimitiveSet(name, "") })
	}

	sets, err := r.RetrievePrimitiveSets(context.Background(), "GMOS", ir.Dataset{})
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, "APrimitives", sets[0].Name)
	assert.Equal(t, "BPrimitives", sets[1].Name)
}

func TestBuild_DuplicateParameterIndexAppends(t *testing.T) {
	root := writeTree(t, map[string]string{
		"a/parametersIndex.a.cue": `localParameterTypeIndex: GMOS: ["fast"]`,
		"b/parametersIndex.b.cue": `localParameterTypeIndex: {GMOS: ["slow"], GNIRS: ["deep"]}`,
	})
	r, err := Build([]string{root})
	require.NoError(t, err)

	assert.Equal(t, []string{"fast", "slow"}, r.ApplicableParameters("GMOS"))
	assert.Equal(t, []string{"deep"}, r.ApplicableParameters("GNIRS"))
}

func TestBuild_Errors(t *testing.T) {
	t.Run("malformed declaration", func(t *testing.T) {
		root := writeTree(t, map[string]string{"primitivesIndex.x.cue": "localPrimitiveIndex: {"})
		_, err := Build([]string{root})
		assert.Error(t, err)
	})

	t.Run("bad parameter type", func(t *testing.T) {
		root := writeTree(t, map[string]string{"primitives_X.cue": `parameters: p: k: {type: "complex"}`})
		_, err := Build([]string{root})
		assert.Error(t, err)
	})

	t.Run("type cycle", func(t *testing.T) {
		root := writeTree(t, map[string]string{"astrotypes.x.cue": `astrotypes: {A: parents: ["B"], B: parents: ["A"]}`})
		_, err := Build([]string{root})
		assert.True(t, ir.HasCode(err, ir.ErrCodeUnknownType))
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := Build([]string{filepath.Join(t.TempDir(), "nope")})
		assert.Error(t, err)
	})
}

func TestRegistry_RetrievePrimitiveSets(t *testing.T) {
	r := buildGMOS(t)
	ctx := context.Background()

	t.Run("explicit type", func(t *testing.T) {
		sets, err := r.RetrievePrimitiveSets(ctx, "GMOS_IMAGE", ir.Dataset{})
		require.NoError(t, err)
		require.Len(t, sets, 2)
		assert.Equal(t, "GMOS_IMAGEPrimitives", sets[0].Name)
		assert.Equal(t, "GMOSPrimitives", sets[1].Name)
		for _, ps := range sets {
			assert.Equal(t, "GMOS_IMAGE", ps.AstroType)
		}
		spec, ok := sets[0].Params.Lookup("fringeCorrect", "suffix")
		require.True(t, ok)
		assert.Equal(t, "_fringeCorrected", spec.Default)
		assert.False(t, spec.UserOverridable())
	})

	t.Run("falls back to nearest ancestor with sets", func(t *testing.T) {
		sets, err := r.RetrievePrimitiveSets(ctx, "GMOS_SPECT", ir.Dataset{})
		require.NoError(t, err)
		require.Len(t, sets, 1)
		assert.Equal(t, "GMOS", sets[0].AstroType)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := r.RetrievePrimitiveSets(ctx, "NIRI", ir.Dataset{})
		assert.True(t, ir.HasCode(err, ir.ErrCodeUnknownType))
	})

	t.Run("known type without sets", func(t *testing.T) {
		_, err := r.RetrievePrimitiveSets(ctx, "GNIRS", ir.Dataset{})
		assert.True(t, ir.HasCode(err, ir.ErrCodeNoPrimitiveSet))
	})

	t.Run("no classifier", func(t *testing.T) {
		_, err := r.RetrievePrimitiveSets(ctx, "", gmosDataset("N1.fits"))
		assert.True(t, ir.HasCode(err, ir.ErrCodeUnknownType))
	})
}

func TestRegistry_MissingFactory(t *testing.T) {
	r, err := Build([]string{writeTree(t, gmosTree)})
	require.NoError(t, err)

	_, err = r.RetrievePrimitiveSets(context.Background(), "GMOS", ir.Dataset{})
	require.Error(t, err)
	var re *ir.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ir.ErrCodeNoPrimitiveSet, re.Code)
	assert.Equal(t, "GMOSPrimitives", re.Name)
}

func TestRegistry_ClassifiedDatasets(t *testing.T) {
	classifier, err := NewRuleClassifier(
		Rule{Pattern: "N*.fits", Types: []string{"GMOS_IMAGE"}},
		Rule{Pattern: "GNIRS*", Keyword: "INSTRUME", Types: []string{"GNIRS"}},
		Rule{Pattern: "mix*.fits", Types: []string{"GMOS_IMAGE", "NIRI_IMAGE"}},
	)
	require.NoError(t, err)
	r := buildGMOS(t, WithClassifier(classifier))

	types, err := r.Classify(gmosDataset("N1.fits"))
	require.NoError(t, err)
	assert.Equal(t, []string{"GMOS_IMAGE", "GMOS", "GEMINI"}, types)

	typ, err := r.ResolveType("", gmosDataset("N1.fits"))
	require.NoError(t, err)
	assert.Equal(t, "GMOS_IMAGE", typ)

	_, err = r.ResolveType("", gmosDataset("S1.fits"))
	assert.True(t, ir.HasCode(err, ir.ErrCodeNoPrimitiveSet))
}

func TestRegistry_PrimSetConflict(t *testing.T) {
	files := map[string]string{}
	for k, v := range gmosTree {
		files[k] = v
	}
	files["primitives/primitivesIndex.gnirs.cue"] = `localPrimitiveIndex: GNIRS: [{file: "primitives_GMOS.cue", set: "GMOSPrimitives"}]`
	root := writeTree(t, files)

	classifier, err := NewRuleClassifier(Rule{Pattern: "*.fits", Types: []string{"GMOS_IMAGE", "GNIRS"}})
	require.NoError(t, err)
	r, err := Build([]string{root}, WithClassifier(classifier))
	require.NoError(t, err)

	_, err = r.ResolveType("", gmosDataset("N1.fits"))
	var re *ir.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ir.ErrCodePrimSetConflict, re.Code)
	assert.Equal(t, []string{"GMOS_IMAGE", "GNIRS"}, re.Candidates)
}

func TestRegistry_RetrieveReductionObject(t *testing.T) {
	r := buildGMOS(t)

	ro, err := r.RetrieveReductionObject(context.Background(), "GMOS_IMAGE", ir.Dataset{})
	require.NoError(t, err)
	assert.Equal(t, "GMOS_IMAGE", ro.AstroType)
	assert.True(t, ro.HasStep("biasCorrect"))
	assert.True(t, ro.HasStep("fringeCorrect"))

	require.NoError(t, ro.CheckAndBind("reduce"))
	prog, ok := ro.Program("reduce")
	require.True(t, ok)
	assert.Equal(t, []string{"biasCorrect", "fringeCorrect"}, prog.Primitives())

	times := r.LoadTimes()
	require.Len(t, times, 1)
	assert.Equal(t, "TYPE: GMOS_IMAGE", times[0].Source)
}

func TestRegistry_FallbackSets(t *testing.T) {
	r, err := Build(nil, WithFallbackSets("GENERALPrimitives"))
	require.NoError(t, err)
	r.RegisterFactory("GENERALPrimitives", func() *engine.PrimitiveSet {
		return engine.NewPrimitiveSet("GENERALPrimitives", "").Register("showInputs", suffixStep)
	})

	ro, err := r.RetrieveReductionObject(context.Background(), "", ir.NewDataset("x.fits"))
	require.NoError(t, err)
	assert.Equal(t, GenericType, ro.AstroType)
	assert.True(t, ro.HasStep("showInputs"))
	assert.Equal(t, "FILE: x.fits", r.LoadTimes()[0].Source)
}

func TestRegistry_DrivesReduction(t *testing.T) {
	r := buildGMOS(t)
	d := engine.NewDriver(r,
		engine.WithDriverIdentifier(engine.MetaIdentifier{}),
		engine.WithRunIDGenerator(engine.NewFixedGenerator("run-1", "run-2")))

	rc, err := d.Run(context.Background(), engine.Job{
		Recipe:    "reduce",
		AstroType: "GMOS_IMAGE",
		Inputs:    []ir.Dataset{gmosDataset("N1.fits")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"N1_biasCorrected_fringeCorrected.fits"}, rc.InputFilenames())

	// The GMOS object only has the generic recipe.
	rc, err = d.Run(context.Background(), engine.Job{
		Recipe:    "reduce",
		AstroType: "GMOS_SPECT",
		Inputs:    []ir.Dataset{gmosDataset("N2.fits")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"N2_biasCorrected.fits"}, rc.InputFilenames())
}
