package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/reduce/internal/ir"
)

// ErrRunNotFound is returned when a run id is not in the store.
var ErrRunNotFound = errors.New("run not found")

// SaveRun records a finished run and its step history. Saving a run id
// again replaces its summary and history.
func (s *Store) SaveRun(ctx context.Context, run ir.RunRecord, entries []ir.HistoryEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, recipe, astrotype, hostname, status, error, started, finished)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			recipe = excluded.recipe,
			astrotype = excluded.astrotype,
			hostname = excluded.hostname,
			status = excluded.status,
			error = excluded.error,
			started = excluded.started,
			finished = excluded.finished
	`,
		run.ID,
		run.Recipe,
		run.AstroType,
		run.Hostname,
		string(run.Status),
		run.Error,
		formatTime(run.Started),
		formatTime(run.Finished),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM step_history WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO step_history (run_id, seq, time, step, mark, depth, inputs, outputs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	defer stmt.Close()

	for _, e := range entries {
		inputs, err := marshalNames(e.Inputs)
		if err != nil {
			return err
		}
		outputs, err := marshalNames(e.Outputs)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, run.ID, e.Seq, formatTime(e.Time), e.Step, string(e.Mark), e.Depth, inputs, outputs); err != nil {
			return fmt.Errorf("save step %s of run %s: %w", e.Step, run.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// ReadRun returns the summary of run id, or ErrRunNotFound.
func (s *Store) ReadRun(ctx context.Context, id string) (ir.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, recipe, astrotype, hostname, status, error, started, finished
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]ir.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipe, astrotype, hostname, status, error, started, finished
		FROM runs
		ORDER BY started DESC, id COLLATE BINARY ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []ir.RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// ReadHistory returns the step history of run id in recording order.
func (s *Store) ReadHistory(ctx context.Context, runID string) ([]ir.StepRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, seq, time, step, mark, depth, inputs, outputs
		FROM step_history
		WHERE run_id = ?
		ORDER BY seq ASC, id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query step history: %w", err)
	}
	defer rows.Close()

	out := []ir.StepRow{}
	for rows.Next() {
		var r ir.StepRow
		var ts, mark, inputs, outputs string
		if err := rows.Scan(&r.ID, &r.RunID, &r.Seq, &ts, &r.Step, &mark, &r.Depth, &inputs, &outputs); err != nil {
			return nil, fmt.Errorf("scan step history: %w", err)
		}
		r.Mark = ir.Mark(mark)
		if r.Time, err = parseTime(ts); err != nil {
			return nil, err
		}
		if r.Inputs, err = unmarshalNames(inputs); err != nil {
			return nil, err
		}
		if r.Outputs, err = unmarshalNames(outputs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step history: %w", err)
	}
	return out, nil
}

// Entries strips the store bookkeeping from rows.
func Entries(rows []ir.StepRow) []ir.HistoryEntry {
	out := make([]ir.HistoryEntry, len(rows))
	for i, r := range rows {
		out[i] = r.HistoryEntry
	}
	return out
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (ir.RunRecord, error) {
	var run ir.RunRecord
	var status, started, finished string
	if err := row.Scan(&run.ID, &run.Recipe, &run.AstroType, &run.Hostname, &status, &run.Error, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("scan run: %w", err)
	}
	run.Status = ir.Status(status)
	var err error
	if run.Started, err = parseTime(started); err != nil {
		return run, err
	}
	if run.Finished, err = parseTime(finished); err != nil {
		return run, err
	}
	return run, nil
}

// marshalNames stores a filename list as canonical JSON TEXT.
func marshalNames(names []string) (string, error) {
	data, err := ir.MarshalCanonical(names)
	if err != nil {
		return "", fmt.Errorf("marshal filenames: %w", err)
	}
	return string(data), nil
}

func unmarshalNames(data string) ([]string, error) {
	var names []string
	if err := json.Unmarshal([]byte(data), &names); err != nil {
		return nil, fmt.Errorf("unmarshal filenames: %w", err)
	}
	return names, nil
}
