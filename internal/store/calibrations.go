package store

import (
	"context"
	"fmt"

	"github.com/roach88/reduce/internal/ir"
)

// CalibrationRow is one calibration index entry.
type CalibrationRow struct {
	ir.CalKey
	ir.CalibrationRecord
}

// LoadCalibrations returns the whole calibration index. An empty store
// returns an empty index.
func (s *Store) LoadCalibrations(ctx context.Context) (map[ir.CalKey]ir.CalibrationRecord, error) {
	rows, err := s.ListCalibrations(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[ir.CalKey]ir.CalibrationRecord, len(rows))
	for _, r := range rows {
		index[r.CalKey] = r.CalibrationRecord
	}
	return index, nil
}

// SaveCalibrations upserts every entry of index and deletes the removed
// keys in the same transaction. Entries already stored but neither in
// index nor removed are kept, so concurrent runs sharing one store do not
// drop each other's records.
func (s *Store) SaveCalibrations(ctx context.Context, index map[ir.CalKey]ir.CalibrationRecord, removed ...ir.CalKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save calibrations: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO calibrations (dataset_id, cal_type, filename, timestamp, source)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(dataset_id, cal_type) DO UPDATE SET
			filename = excluded.filename,
			timestamp = excluded.timestamp,
			source = excluded.source
	`)
	if err != nil {
		return fmt.Errorf("save calibrations: %w", err)
	}
	defer stmt.Close()

	for key, rec := range index {
		if _, err := stmt.ExecContext(ctx, key.DatasetID, key.CalType, rec.Filename, formatTime(rec.Timestamp), rec.Source); err != nil {
			return fmt.Errorf("save calibration %s/%s: %w", key.DatasetID, key.CalType, err)
		}
	}
	for _, key := range removed {
		if _, ok := index[key]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM calibrations WHERE dataset_id = ? AND cal_type = ?
		`, key.DatasetID, key.CalType); err != nil {
			return fmt.Errorf("delete calibration %s/%s: %w", key.DatasetID, key.CalType, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save calibrations: %w", err)
	}
	return nil
}

// DeleteCalibration removes one entry and reports whether it existed.
func (s *Store) DeleteCalibration(ctx context.Context, key ir.CalKey) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM calibrations WHERE dataset_id = ? AND cal_type = ?
	`, key.DatasetID, key.CalType)
	if err != nil {
		return false, fmt.Errorf("delete calibration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete calibration: %w", err)
	}
	return n > 0, nil
}

// ListCalibrations returns every entry ordered by dataset id and type.
func (s *Store) ListCalibrations(ctx context.Context) ([]CalibrationRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dataset_id, cal_type, filename, timestamp, source
		FROM calibrations
		ORDER BY dataset_id COLLATE BINARY ASC, cal_type COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query calibrations: %w", err)
	}
	defer rows.Close()

	out := []CalibrationRow{}
	for rows.Next() {
		var r CalibrationRow
		var ts string
		if err := rows.Scan(&r.DatasetID, &r.CalKey.CalType, &r.Filename, &ts, &r.Source); err != nil {
			return nil, fmt.Errorf("scan calibration: %w", err)
		}
		r.CalibrationRecord.CalType = r.CalKey.CalType
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calibrations: %w", err)
	}
	return out, nil
}
