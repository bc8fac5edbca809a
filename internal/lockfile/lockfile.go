// Package lockfile provides process-level mutual exclusion for a target
// directory via a lock file containing the owner's pid and acquisition time.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/geoipdb/geoipsync/internal/logctx"
)

const lockFilePerm = 0o644

// Record is the persisted lock content.
type Record struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// AlreadyRunningError means another live process holds the lock.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("another instance is already running (PID: %d)", e.PID)
}

// Guard acquires and releases the lock file for one target directory.
type Guard struct {
	path   string
	maxAge time.Duration
}

// Handle represents a held lock. Release it exactly once.
type Handle struct {
	guard *Guard
	pid   int
}

// NewGuard creates a Guard for the given target directory. The lock file
// lives next to the target directory, not inside it, so consumers watching
// the directory never see it.
func NewGuard(targetDir string, maxAge time.Duration) (*Guard, error) {
	abs, err := filepath.Abs(targetDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve target directory: %w", err)
	}

	name := "." + filepath.Base(abs) + ".geoipsync.lock"

	return &Guard{
		path:   filepath.Join(filepath.Dir(abs), name),
		maxAge: maxAge,
	}, nil
}

// Path returns the lock file location.
func (g *Guard) Path() string {
	return g.path
}

// Acquire takes the lock or fails with AlreadyRunningError if a live record
// exists. A stale record (owner gone, or older than the max age) is
// reclaimed; reclamation is logged, not silent.
func (g *Guard) Acquire(ctx context.Context) (*Handle, error) {
	logger := logctx.LoggerFromContext(ctx)

	for attempt := 0; attempt < 2; attempt++ {
		created, err := g.tryCreate()
		if err != nil {
			return nil, err
		}

		if created {
			logger.Debug("lock acquired", "lock_file", g.path, "pid", os.Getpid())

			return &Handle{guard: g, pid: os.Getpid()}, nil
		}

		record, err := g.read()
		if err != nil {
			// Unreadable or garbled lock content counts as stale.
			logger.Warn("removing unreadable lock file", "lock_file", g.path, "err", err)
			os.Remove(g.path)

			continue
		}

		if g.isLive(record) {
			return nil, &AlreadyRunningError{PID: record.PID}
		}

		logger.Warn("reclaiming stale lock",
			"lock_file", g.path,
			"stale_pid", record.PID,
			"acquired_at", record.AcquiredAt,
		)
		os.Remove(g.path)
	}

	return nil, fmt.Errorf("failed to acquire lock at %s", g.path)
}

// Release removes the lock file only if it still contains this process's own
// record. A stale handle whose lock was reclaimed by another process leaves
// the newer lock untouched.
func (h *Handle) Release(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	record, err := h.guard.read()
	if err != nil {
		return
	}

	if record.PID != h.pid {
		logger.Warn("not releasing lock owned by another process",
			"lock_file", h.guard.path,
			"owner_pid", record.PID,
		)

		return
	}

	if err := os.Remove(h.guard.path); err != nil && !os.IsNotExist(err) {
		logger.Error("failed to remove lock file", "lock_file", h.guard.path, "err", err)
	}
}

// tryCreate attempts an exclusive create of the lock file with our record.
// Returns false without error when the file already exists.
func (g *Guard) tryCreate() (bool, error) {
	f, err := os.OpenFile(g.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, lockFilePerm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	record := Record{PID: os.Getpid(), AcquiredAt: time.Now().UTC()}
	if err := json.NewEncoder(f).Encode(record); err != nil {
		os.Remove(g.path)

		return false, fmt.Errorf("failed to write lock record: %w", err)
	}

	return true, nil
}

func (g *Guard) read() (Record, error) {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return Record{}, err
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("failed to parse lock record: %w", err)
	}

	if record.PID <= 0 {
		return Record{}, fmt.Errorf("lock record has no pid")
	}

	return record, nil
}

func (g *Guard) isLive(record Record) bool {
	if g.maxAge > 0 && time.Since(record.AcquiredAt) > g.maxAge {
		return false
	}

	return processRunning(record.PID)
}

func processRunning(pid int) bool {
	if runtime.GOOS == "windows" {
		// No cheap liveness probe on Windows; err on the safe side.
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
