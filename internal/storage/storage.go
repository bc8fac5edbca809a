package storage

import "time"

// RunRecord is one sync run in the history ledger.
type RunRecord struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string
}

// OutcomeRecord is one per-database outcome belonging to a run.
type OutcomeRecord struct {
	RunID      int64
	Database   string
	Status     string
	SizeBytes  int64
	DurationMS int64
	Error      string
}

// HistoryRepository persists sync runs and their per-database outcomes. The
// ledger is opt-in; a nil repository disables it.
type HistoryRepository interface {
	RecordRun(record RunRecord) (int64, error)
	RecordOutcomes(runID int64, outcomes []OutcomeRecord) error
}
