package ir

import "time"

// NOTE: These are store-layer records, not part of the data model a
// recipe sees. StepRow uses an auto-increment id for its FK to RunRecord.

// RunRecord summarizes one persisted reduction run.
type RunRecord struct {
	ID        string    `json:"id"` // run id (UUIDv7)
	Recipe    string    `json:"recipe"`
	AstroType string    `json:"astrotype"`
	Hostname  string    `json:"hostname"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}

// StepRow is one persisted step-history entry.
type StepRow struct {
	ID    int64  `json:"id"` // auto-increment (store FK)
	RunID string `json:"run_id"`
	HistoryEntry
}
