// Package store provides SQLite-backed persistence for the calibration
// index and the run history.
//
// Tables:
//   - calibrations: (dataset_id, cal_type) -> calibration file, upserted
//     on persist, with keys removed during the run deleted
//   - runs: one summary row per finished reduction
//   - step_history: the begin/end markers of each run
//
// Ordering:
// History reads are ORDER BY seq ASC, id ASC. seq comes from the
// context's monotonic clock, so markers recorded within one wall-clock
// tick keep their order.
//
// Times are stored as RFC 3339 text in UTC.
//
// Database configuration:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
