package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/reduce/internal/ir"
)

// CalibrationStore persists the calibration index. Implemented by store.
type CalibrationStore interface {
	LoadCalibrations(ctx context.Context) (map[ir.CalKey]ir.CalibrationRecord, error)
	SaveCalibrations(ctx context.Context, index map[ir.CalKey]ir.CalibrationRecord, removed ...ir.CalKey) error
}

// AddCal records calname as the caltype calibration for ds. The key is the
// content identity of ds, so the record survives renames.
func (rc *ReductionContext) AddCal(ds ir.Dataset, caltype, calname string) error {
	id, err := rc.identify.Identify(ds)
	if err != nil {
		return err
	}
	return rc.addCal(ir.CalKey{DatasetID: id, CalType: caltype}, calname, ds.Filename)
}

func (rc *ReductionContext) addCal(key ir.CalKey, calname, source string) error {
	abs, err := filepath.Abs(calname)
	if err != nil {
		return fmt.Errorf("calibration %s: %w", calname, err)
	}
	delete(rc.calRemoved, key)
	rc.calibrations[key] = ir.CalibrationRecord{
		Filename:  abs,
		CalType:   key.CalType,
		Timestamp: rc.wall.Now(),
		Source:    source,
	}
	return nil
}

func (rc *ReductionContext) lookupCal(key ir.CalKey) (ir.CalibrationRecord, bool) {
	rec, ok := rc.calibrations[key]
	return rec, ok
}

// GetCal returns the caltype calibration recorded for ds.
func (rc *ReductionContext) GetCal(ds ir.Dataset, caltype string) (string, bool, error) {
	id, err := rc.identify.Identify(ds)
	if err != nil {
		return "", false, err
	}
	rec, ok := rc.calibrations[ir.CalKey{DatasetID: id, CalType: caltype}]
	if !ok {
		return "", false, nil
	}
	return rec.Filename, true, nil
}

// RmCal removes the caltype calibration of each dataset and returns the
// datasets that had none.
func (rc *ReductionContext) RmCal(caltype string, ds ...ir.Dataset) ([]string, error) {
	var missing []string
	for _, d := range ds {
		id, err := rc.identify.Identify(d)
		if err != nil {
			return nil, err
		}
		key := ir.CalKey{DatasetID: id, CalType: caltype}
		if _, ok := rc.calibrations[key]; !ok {
			missing = append(missing, d.Filename)
			continue
		}
		delete(rc.calibrations, key)
		rc.calRemoved[key] = struct{}{}
	}
	return missing, nil
}

// Calibrations returns a copy of the calibration index.
func (rc *ReductionContext) Calibrations() map[ir.CalKey]ir.CalibrationRecord {
	out := make(map[ir.CalKey]ir.CalibrationRecord, len(rc.calibrations))
	for k, v := range rc.calibrations {
		out[k] = v
	}
	return out
}

// SetCalibrations replaces the calibration index and forgets pending
// removals.
func (rc *ReductionContext) SetCalibrations(index map[ir.CalKey]ir.CalibrationRecord) {
	rc.calRemoved = map[ir.CalKey]struct{}{}
	rc.calibrations = make(map[ir.CalKey]ir.CalibrationRecord, len(index))
	for k, v := range index {
		rc.calibrations[k] = v
	}
}

// CalSummary lists the calibration index one record per line, sorted by
// calibration type and dataset id.
func (rc *ReductionContext) CalSummary() string {
	keys := make([]ir.CalKey, 0, len(rc.calibrations))
	for k := range rc.calibrations {
		keys = append(keys, k)
	}
	sortCalKeys(keys)

	var b strings.Builder
	for _, k := range keys {
		rec := rc.calibrations[k]
		fmt.Fprintf(&b, "%s %s %s (for %s)\n", k.CalType, shortID(k.DatasetID), rec.Filename, filepath.Base(rec.Source))
	}
	return b.String()
}

// CalFilename maps each caltype calibration of the original inputs to the
// input basenames it applies to. Inputs without a calibration are left
// out.
func (rc *ReductionContext) CalFilename(caltype string) (map[string][]string, error) {
	out := map[string][]string{}
	for _, in := range rc.originalInputs {
		cal, ok, err := rc.GetCal(in, caltype)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out[cal] = append(out[cal], filepath.Base(in.Filename))
	}
	return out, nil
}

// PersistCalIndex writes the calibration index to s, deleting the entries
// removed with RmCal since the last persist or restore.
func (rc *ReductionContext) PersistCalIndex(ctx context.Context, s CalibrationStore) error {
	removed := make([]ir.CalKey, 0, len(rc.calRemoved))
	for k := range rc.calRemoved {
		removed = append(removed, k)
	}
	sortCalKeys(removed)
	if err := s.SaveCalibrations(ctx, rc.calibrations, removed...); err != nil {
		return fmt.Errorf("persist calibration index: %w", err)
	}
	rc.calRemoved = map[ir.CalKey]struct{}{}
	return nil
}

// RestoreCalIndex replaces the calibration index with the one in s. An
// empty store restores an empty index.
func (rc *ReductionContext) RestoreCalIndex(ctx context.Context, s CalibrationStore) error {
	index, err := s.LoadCalibrations(ctx)
	if err != nil {
		return fmt.Errorf("restore calibration index: %w", err)
	}
	rc.SetCalibrations(index)
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// sortCalKeys orders keys by calibration type, then dataset id.
func sortCalKeys(keys []ir.CalKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CalType != keys[j].CalType {
			return keys[i].CalType < keys[j].CalType
		}
		return keys[i].DatasetID < keys[j].DatasetID
	})
}
