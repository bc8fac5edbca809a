package syncer

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/geoipdb/geoipsync/internal/authapi"
	"github.com/geoipdb/geoipsync/internal/catalog"
	"github.com/geoipdb/geoipsync/internal/lockfile"
	"github.com/geoipdb/geoipsync/internal/logctx"
	"github.com/geoipdb/geoipsync/internal/notifier"
	"github.com/geoipdb/geoipsync/internal/storage"
	"github.com/geoipdb/geoipsync/internal/telemetry"
)

const dirPerm = 0o755

// State tracks where a session is in its lifecycle.
type State string

const (
	StateIdle           State = "idle"
	StateLockAcquired   State = "lock_acquired"
	StateAuthenticating State = "authenticating"
	StateDownloading    State = "downloading"
	StateReporting      State = "reporting"
	StateDone           State = "done"
	StateAborted        State = "aborted"
)

// AuthFailure marks a run aborted during the authentication phase, before
// any download was attempted.
type AuthFailure struct {
	Err error
}

func (e *AuthFailure) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Err)
}

func (e *AuthFailure) Unwrap() error {
	return e.Err
}

// Session coordinates one sync run: acquire the lock, authenticate, drive
// the orchestrator, report, release the lock. Lock and auth failures abort
// the run before any download; download failures never abort the batch.
type Session struct {
	specs        []catalog.DatabaseSpec
	targetDir    string
	guard        *lockfile.Guard
	auth         *authapi.Client
	orchestrator *Orchestrator
	notif        notifier.Notifier
	history      storage.HistoryRepository
	tel          *telemetry.Telemetry

	state State
}

// SessionOption configures optional session collaborators.
type SessionOption func(*Session)

// WithLockGuard enables mutual exclusion for the run.
func WithLockGuard(guard *lockfile.Guard) SessionOption {
	return func(s *Session) { s.guard = guard }
}

// WithNotifier enables a completion notification.
func WithNotifier(n notifier.Notifier) SessionOption {
	return func(s *Session) { s.notif = n }
}

// WithHistory enables the sync-history ledger.
func WithHistory(repo storage.HistoryRepository) SessionOption {
	return func(s *Session) { s.history = repo }
}

func NewSession(
	specs []catalog.DatabaseSpec,
	targetDir string,
	auth *authapi.Client,
	orchestrator *Orchestrator,
	tel *telemetry.Telemetry,
	opts ...SessionOption,
) *Session {
	s := &Session{
		specs:        specs,
		targetDir:    targetDir,
		auth:         auth,
		orchestrator: orchestrator,
		tel:          tel,
		state:        StateIdle,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run drives the session to completion and returns the aggregate report.
// The returned error is non-nil only for aborts before the download phase;
// per-database failures live in the report.
func (s *Session) Run(ctx context.Context) (*Report, error) {
	logger := logctx.LoggerFromContext(ctx)

	if s.guard != nil {
		handle, err := s.guard.Acquire(ctx)
		if err != nil {
			s.transition(ctx, StateAborted)

			return nil, err
		}
		defer handle.Release(ctx)

		s.transition(ctx, StateLockAcquired)
	} else {
		logger.Warn("running without lock: concurrent runs are not excluded")
		s.transition(ctx, StateLockAcquired)
	}

	if err := os.MkdirAll(s.targetDir, dirPerm); err != nil {
		s.transition(ctx, StateAborted)

		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	s.transition(ctx, StateAuthenticating)

	urls, err := s.auth.Authenticate(ctx, s.specs)
	if err != nil {
		s.transition(ctx, StateAborted)
		s.tel.RecordRun("auth_failed")

		return nil, &AuthFailure{Err: err}
	}

	s.transition(ctx, StateDownloading)

	report := s.orchestrator.Run(ctx, s.specs, urls)

	s.transition(ctx, StateReporting)
	report.Log(ctx)

	status := "success"
	if !report.OK() {
		status = "partial_failure"
	}

	s.tel.RecordRun(status)
	s.recordHistory(ctx, report, status)
	s.notify(ctx, report)

	s.transition(ctx, StateDone)

	return report, nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.state
}

func (s *Session) transition(ctx context.Context, next State) {
	logctx.LoggerFromContext(ctx).Debug("session state change", "from", string(s.state), "to", string(next))
	s.state = next
}

func (s *Session) recordHistory(ctx context.Context, report *Report, status string) {
	if s.history == nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	runID, err := s.history.RecordRun(storage.RunRecord{
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Status:     status,
	})
	if err != nil {
		logger.Error("failed to record run history", "err", err)

		return
	}

	outcomes := make([]storage.OutcomeRecord, 0, len(report.Results))

	for _, res := range report.Results {
		record := storage.OutcomeRecord{
			RunID:      runID,
			Database:   res.Name,
			Status:     string(res.Outcome),
			SizeBytes:  res.SizeBytes,
			DurationMS: res.Duration.Milliseconds(),
		}
		if res.Err != nil {
			record.Error = res.Err.Error()
		}

		outcomes = append(outcomes, record)
	}

	if err := s.history.RecordOutcomes(runID, outcomes); err != nil {
		logger.Error("failed to record outcome history", "err", err)
	}
}

func (s *Session) notify(ctx context.Context, report *Report) {
	if s.notif == nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	var content string
	if report.OK() {
		content = fmt.Sprintf("✅ geoipsync: %d databases up to date", len(report.Succeeded()))
	} else {
		content = fmt.Sprintf("❌ geoipsync: %d of %d databases failed: %s",
			len(report.Failed()), len(report.Results), strings.Join(report.FailedNames(), ", "))
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := s.notif.Notify(notifyCtx, content); err != nil {
		logger.Error("failed to send notification", "err", err)
	}
}
