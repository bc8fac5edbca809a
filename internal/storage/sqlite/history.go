package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/geoipdb/geoipsync/internal/storage"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the history database and creates its tables if needed.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT
	);
	CREATE TABLE IF NOT EXISTS outcomes (
		id INTEGER PRIMARY KEY,
		run_id INTEGER REFERENCES runs(id),
		database_name TEXT,
		status TEXT,
		size_bytes INTEGER,
		duration_ms INTEGER,
		error TEXT
	)`)
	if err != nil {
		db.Close()

		return nil, err
	}

	return db, nil
}

// HistoryRepository stores sync run history in SQLite.
type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

var _ storage.HistoryRepository = (*HistoryRepository)(nil)

func (r *HistoryRepository) RecordRun(record storage.RunRecord) (int64, error) {
	res, err := r.db.Exec(
		`INSERT INTO runs (started_at, finished_at, status) VALUES (?, ?, ?)`,
		record.StartedAt.Format(time.RFC3339),
		record.FinishedAt.Format(time.RFC3339),
		record.Status,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}

	return res.LastInsertId()
}

func (r *HistoryRepository) RecordOutcomes(runID int64, outcomes []storage.OutcomeRecord) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}

	for _, o := range outcomes {
		if _, err := tx.Exec(
			`INSERT INTO outcomes (run_id, database_name, status, size_bytes, duration_ms, error)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			runID, o.Database, o.Status, o.SizeBytes, o.DurationMS, o.Error,
		); err != nil {
			tx.Rollback()

			return fmt.Errorf("failed to insert outcome for %s: %w", o.Database, err)
		}
	}

	return tx.Commit()
}

// Runs returns the most recent runs, newest first, up to limit.
func (r *HistoryRepository) Runs(limit int) ([]storage.RunRecord, error) {
	rows, err := r.db.Query(
		`SELECT id, started_at, finished_at, status FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []storage.RunRecord

	for rows.Next() {
		var (
			record            storage.RunRecord
			started, finished string
		)

		if err := rows.Scan(&record.ID, &started, &finished, &record.Status); err != nil {
			return nil, err
		}

		record.StartedAt, _ = time.Parse(time.RFC3339, started)
		record.FinishedAt, _ = time.Parse(time.RFC3339, finished)

		runs = append(runs, record)
	}

	return runs, rows.Err()
}
