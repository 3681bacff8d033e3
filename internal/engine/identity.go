package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/roach88/reduce/internal/ir"
)

// DatasetIdentifier computes the content identity of a dataset. The
// identity keys the calibration index, so it must not depend on the
// filename.
type DatasetIdentifier interface {
	Identify(ds ir.Dataset) (string, error)
}

// FileIdentifier derives identity from header keywords when the dataset
// carries them, and otherwise from a SHA-256 digest of the file contents.
type FileIdentifier struct{}

// Identify implements DatasetIdentifier.
func (FileIdentifier) Identify(ds ir.Dataset) (string, error) {
	if !ds.HasIdentity() {
		sum, err := fileChecksum(ds.Filename)
		if err != nil {
			return "", fmt.Errorf("identify %s: %w", ds.Filename, err)
		}
		ds.Checksum = sum
	}
	return ir.DatasetID(ds)
}

// MetaIdentifier only uses identity material already attached to the
// dataset and never touches the filesystem.
type MetaIdentifier struct{}

// Identify implements DatasetIdentifier.
func (MetaIdentifier) Identify(ds ir.Dataset) (string, error) {
	return ir.DatasetID(ds)
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
