package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/reduce/internal/ir"
)

func TestFileIdentifier_ContentNotName(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.fits")
	b := filepath.Join(dir, "renamed.fits")
	c := filepath.Join(dir, "other.fits")
	require.NoError(t, os.WriteFile(a, []byte("SIMPLE = T"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("SIMPLE = T"), 0o644))
	require.NoError(t, os.WriteFile(c, []byte("SIMPLE = F"), 0o644))

	id := FileIdentifier{}
	idA, err := id.Identify(ir.NewDataset(a))
	require.NoError(t, err)
	idB, err := id.Identify(ir.NewDataset(b))
	require.NoError(t, err)
	idC, err := id.Identify(ir.NewDataset(c))
	require.NoError(t, err)

	assert.Equal(t, idA, idB, "same content, different name")
	assert.NotEqual(t, idA, idC)
}

func TestFileIdentifier_PrefersMeta(t *testing.T) {
	ds := ir.Dataset{Filename: "/does/not/exist.fits", Meta: map[string]string{"DATALAB": "GN-1"}}

	got, err := FileIdentifier{}.Identify(ds)
	require.NoError(t, err)
	assert.Equal(t, ir.MustDatasetID(ds), got)
}

func TestFileIdentifier_MissingFile(t *testing.T) {
	_, err := FileIdentifier{}.Identify(ir.NewDataset(filepath.Join(t.TempDir(), "gone.fits")))
	assert.Error(t, err)
}

func TestMetaIdentifier_NoIdentity(t *testing.T) {
	_, err := MetaIdentifier{}.Identify(ir.NewDataset("x.fits"))
	assert.True(t, ir.HasCode(err, ir.ErrCodeNoDatasetIdentity))
}
