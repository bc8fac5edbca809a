package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/geoipdb/geoipsync/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) *HistoryRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewHistoryRepository(db)
}

func TestRecordRunAndOutcomes(t *testing.T) {
	repo := newTestRepository(t)

	started := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	runID, err := repo.RecordRun(storage.RunRecord{
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Status:     "partial_failure",
	})
	require.NoError(t, err)
	assert.Positive(t, runID)

	outcomes := []storage.OutcomeRecord{
		{RunID: runID, Database: "GeoIP2-City.mmdb", Status: "success", SizeBytes: 4096, DurationMS: 1200},
		{RunID: runID, Database: "GeoIP2-ISP.mmdb", Status: "failed", Error: "download failed with HTTP 502"},
	}
	require.NoError(t, repo.RecordOutcomes(runID, outcomes))

	runs, err := repo.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, "partial_failure", runs[0].Status)
	assert.True(t, runs[0].StartedAt.Equal(started))
}

func TestRunsNewestFirst(t *testing.T) {
	repo := newTestRepository(t)

	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		_, err := repo.RecordRun(storage.RunRecord{
			StartedAt:  now.Add(time.Duration(i) * time.Hour),
			FinishedAt: now.Add(time.Duration(i)*time.Hour + time.Minute),
			Status:     "success",
		})
		require.NoError(t, err)
	}

	runs, err := repo.Runs(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Greater(t, runs[0].ID, runs[1].ID)
}

func TestRecordOutcomesEmpty(t *testing.T) {
	repo := newTestRepository(t)

	runID, err := repo.RecordRun(storage.RunRecord{
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
		Status:     "success",
	})
	require.NoError(t, err)

	assert.NoError(t, repo.RecordOutcomes(runID, nil))
}
