package engine

import (
	"context"

	"github.com/roach88/reduce/internal/ir"
)

// CalibrationService finds calibrations the local index does not hold.
// Search returns "" without error when nothing suitable exists.
type CalibrationService interface {
	Search(ctx context.Context, req ir.CalibrationRequest) (string, error)
}

// DisplayService shows datasets to an operator.
type DisplayService interface {
	Display(ctx context.Context, req ir.DisplayRequest) error
}

// HistoryStore persists finished runs and their step history.
// Implemented by store.Store.
type HistoryStore interface {
	SaveRun(ctx context.Context, run ir.RunRecord, entries []ir.HistoryEntry) error
}

// CacheManager owns the cache directories. Implemented by config.Config.
type CacheManager interface {
	// ResetCaches empties the named caches, or all of them.
	ResetCaches(names ...string) error
	// Dir returns the directory of cache name, or "" if none is configured.
	Dir(name string) string
}

// Cache names the control loop uses.
const (
	CacheRetrievedCals = "retrievedcals"
	CacheStoredCals    = "storedcals"
	CacheCalibrations  = "calibrations"
)
