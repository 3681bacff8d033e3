package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

// Domain prefixes for content-derived identity.
// The version suffix allows the algorithm to change without collisions.
const (
	DomainDataset   = "reduce/dataset/v1"
	DomainStackable = "reduce/stackable/v1"
	DomainDisplay   = "reduce/display/v1"
)

// IdentityKeywords are the header keywords that make up a dataset's
// identity when present. Other keywords are ignored so that processing
// history written into headers does not change the identity.
var IdentityKeywords = []string{"DATALAB", "OBSID", "OBJECT", "INSTRUME", "DATE-OBS", "TIME-OBS", "UT"}

// hashWithDomain computes SHA256(domain || 0x00 || data).
// The null separator keeps domain and data unambiguous.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DatasetID computes a dataset's content identity. It depends only on the
// identity keywords, or on the checksum when no keyword is present, and
// never on the filename, so renaming or copying a file keeps its
// calibrations.
func DatasetID(ds Dataset) (string, error) {
	obj := map[string]any{}
	for _, kw := range IdentityKeywords {
		if v, ok := ds.Meta[kw]; ok {
			obj[kw] = v
		}
	}
	if len(obj) == 0 {
		if ds.Checksum == "" {
			return "", &ResolutionError{
				Code:    ErrCodeNoDatasetIdentity,
				Message: fmt.Sprintf("dataset %s has neither identity keywords nor a checksum", ds.Filename),
				Name:    ds.Filename,
			}
		}
		obj["checksum"] = ds.Checksum
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("DatasetID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDataset, canonical), nil
}

// StackableID computes the stack a dataset belongs to. Datasets sharing
// the grouping keywords (everything in the identity except the exposure
// timing) share a stack. purpose prefixes the id so that one dataset can
// be in several stacks.
func StackableID(ds Dataset, purpose, version string) (string, error) {
	obj := map[string]any{"version": version}
	for _, kw := range []string{"OBSID", "OBJECT", "INSTRUME"} {
		if v, ok := ds.Meta[kw]; ok {
			obj[kw] = v
		}
	}
	if len(obj) == 1 {
		// no grouping keywords: the dataset stacks with itself
		id, err := DatasetID(ds)
		if err != nil {
			return "", err
		}
		obj["dataset"] = id
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("StackableID: failed to marshal: %w", err)
	}
	return purpose + hashWithDomain(DomainStackable, canonical)[:16], nil
}

// DisplayID computes the display channel id for a file.
func DisplayID(filename, version string) string {
	obj := map[string]any{"file": filepath.Base(filename), "version": version}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		panic(err)
	}
	return hashWithDomain(DomainDisplay, canonical)[:16]
}

// MustDatasetID is like DatasetID but panics on error.
// Use only in tests or when inputs are known to carry identity.
func MustDatasetID(ds Dataset) string {
	id, err := DatasetID(ds)
	if err != nil {
		panic(err)
	}
	return id
}
