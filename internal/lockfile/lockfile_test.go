package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()

	guard, err := NewGuard(filepath.Join(t.TempDir(), "geoip"), time.Hour)
	require.NoError(t, err)

	return guard
}

func writeRecord(t *testing.T, guard *Guard, record Record) {
	t.Helper()

	data, err := json.Marshal(record)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(guard.Path(), data, 0o644))
}

func TestGuardPathNextToTargetDir(t *testing.T) {
	base := t.TempDir()

	guard, err := NewGuard(filepath.Join(base, "geoip"), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(base, ".geoip.geoipsync.lock"), guard.Path())
}

func TestAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	guard := newTestGuard(t)

	handle, err := guard.Acquire(ctx)
	require.NoError(t, err)

	data, err := os.ReadFile(guard.Path())
	require.NoError(t, err)

	var record Record
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, os.Getpid(), record.PID)
	assert.WithinDuration(t, time.Now(), record.AcquiredAt, time.Minute)

	handle.Release(ctx)

	_, err = os.Stat(guard.Path())
	assert.True(t, os.IsNotExist(err), "release must remove the lock file")
}

func TestAcquireFailsWhenHeldByLiveProcess(t *testing.T) {
	ctx := context.Background()
	guard := newTestGuard(t)

	// Our own pid is guaranteed to be alive.
	writeRecord(t, guard, Record{PID: os.Getpid(), AcquiredAt: time.Now().UTC()})

	_, err := guard.Acquire(ctx)
	require.Error(t, err)

	var alreadyRunning *AlreadyRunningError
	require.True(t, errors.As(err, &alreadyRunning))
	assert.Equal(t, os.Getpid(), alreadyRunning.PID)
	assert.Contains(t, err.Error(), "another instance is already running")
}

func TestAcquireReclaimsDeadOwner(t *testing.T) {
	ctx := context.Background()
	guard := newTestGuard(t)

	// A pid from the far end of the default pid space; if it happens to be
	// alive on the test machine the max-age path still applies below.
	writeRecord(t, guard, Record{PID: 4194300, AcquiredAt: time.Now().UTC().Add(-2 * time.Hour)})

	handle, err := guard.Acquire(ctx)
	require.NoError(t, err)

	defer handle.Release(ctx)

	data, err := os.ReadFile(guard.Path())
	require.NoError(t, err)

	var record Record
	require.NoError(t, json.Unmarshal(data, &record))
	assert.Equal(t, os.Getpid(), record.PID, "reclaimed lock must carry our record")
}

func TestAcquireReclaimsExpiredLock(t *testing.T) {
	ctx := context.Background()
	guard := newTestGuard(t)

	// Live owner, but the record is older than the max age.
	writeRecord(t, guard, Record{PID: os.Getpid(), AcquiredAt: time.Now().UTC().Add(-2 * time.Hour)})

	handle, err := guard.Acquire(ctx)
	require.NoError(t, err)

	handle.Release(ctx)
}

func TestAcquireReclaimsGarbledLock(t *testing.T) {
	ctx := context.Background()
	guard := newTestGuard(t)

	require.NoError(t, os.WriteFile(guard.Path(), []byte("not json"), 0o644))

	handle, err := guard.Acquire(ctx)
	require.NoError(t, err)

	handle.Release(ctx)
}

func TestReleaseLeavesForeignLockAlone(t *testing.T) {
	ctx := context.Background()
	guard := newTestGuard(t)

	handle, err := guard.Acquire(ctx)
	require.NoError(t, err)

	// Simulate another process reclaiming and re-acquiring the lock.
	writeRecord(t, guard, Record{PID: os.Getpid() + 1, AcquiredAt: time.Now().UTC()})

	handle.Release(ctx)

	_, err = os.Stat(guard.Path())
	assert.NoError(t, err, "a handle must not remove a lock it no longer owns")
}
