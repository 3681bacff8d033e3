package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gmosRecipes = map[string]string{
	"astrotypes.gemini.cue": `
astrotypes: {
	GEMINI: {}
	GMOS: parents: ["GEMINI"]
	GMOS_IMAGE: parents: ["GMOS"]
}
`,
	"recipe.reduce":            "prepare\n",
	"recipe.reduce.GMOS_IMAGE": "prepare\nfringeCorrect\n",
	"recipeIndex.gmos.cue": `
localAstroTypeRecipeIndex: {
	GMOS_IMAGE: ["reduce", "makeFringe"]
	GMOS: ["quicklook"]
}
`,
}

func TestRecipes_ListAll(t *testing.T) {
	w := newWorkspace(t, gmosRecipes)

	out, err := w.run(t, "--format", "json", "recipes")
	require.NoError(t, err)

	var entries []RecipeEntry
	decodeData(t, out, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "reduce", entries[0].Name)
	assert.Equal(t, "reduce.GMOS_IMAGE", entries[1].Name)
	assert.Contains(t, entries[0].Path, "recipe.reduce")
}

func TestRecipes_ByAstroType(t *testing.T) {
	w := newWorkspace(t, gmosRecipes)

	out, err := w.run(t, "--format", "json", "recipes", "--astrotype", "GMOS_IMAGE")
	require.NoError(t, err)

	var entries []RecipeEntry
	decodeData(t, out, &entries)
	assert.Equal(t, []RecipeEntry{
		{Name: "reduce", Type: "GMOS_IMAGE"},
		{Name: "makeFringe", Type: "GMOS_IMAGE"},
		{Name: "quicklook", Type: "GMOS"},
	}, entries)
}

func TestRecipes_UnknownAstroType(t *testing.T) {
	w := newWorkspace(t, gmosRecipes)

	out, err := w.run(t, "recipes", "-t", "NIRI")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "unknown astrotype")
}

func TestRecipes_Empty(t *testing.T) {
	w := newWorkspace(t, nil)

	out, err := w.run(t, "recipes")
	require.NoError(t, err)
	assert.Equal(t, "No recipes found\n", out)
}
