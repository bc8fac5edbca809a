package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geoipdb/geoipsync/internal/authapi"
	"github.com/geoipdb/geoipsync/internal/catalog"
	"github.com/geoipdb/geoipsync/internal/config"
	"github.com/geoipdb/geoipsync/internal/fetch"
	"github.com/geoipdb/geoipsync/internal/lockfile"
	"github.com/geoipdb/geoipsync/internal/logctx"
	"github.com/geoipdb/geoipsync/internal/notifier"
	"github.com/geoipdb/geoipsync/internal/storage/sqlite"
	"github.com/geoipdb/geoipsync/internal/syncer"
	"github.com/geoipdb/geoipsync/internal/telemetry"
	"github.com/go-chi/chi/v5"
	slogmulti "github.com/samber/slog-multi"
)

const version = "1.0.0"

// Exit codes, stable for automation: credential problems and download
// failures must be distinguishable without parsing logs.
const (
	exitOK              = 0
	exitError           = 1
	exitAuthFailed      = 2
	exitDownloadsFailed = 3
	exitLocked          = 4
)

// downloadsFailedError marks a run where one or more databases ended in a
// failed state while the run itself completed.
type downloadsFailedError struct {
	failed int
	total  int
}

func (e *downloadsFailedError) Error() string {
	return fmt.Sprintf("%d of %d databases failed to sync", e.failed, e.total)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(exitError)
	}

	cmd := newRootCmd(cfg)
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var (
		lockErr *lockfile.AlreadyRunningError
		authErr *syncer.AuthFailure
		dlErr   *downloadsFailedError
	)

	switch {
	case errors.As(err, &lockErr):
		return exitLocked
	case errors.As(err, &authErr):
		return exitAuthFailed
	case errors.As(err, &dlErr):
		return exitDownloadsFailed
	default:
		return exitError
	}
}

func runSync(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	ctx = logctx.WithLogger(ctx, logger)

	logger.Info("geoipsync starting",
		"version", version,
		"target_dir", cfg.TargetDir,
		"concurrency", cfg.Concurrency,
		"timeout", cfg.Timeout.String(),
	)

	specs, err := catalog.Resolve(cfg.Databases)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.MetricsAddr != "" || cfg.OTLPEndpoint != "",
		ServiceName:    "geoipsync",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down telemetry", "err", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		stopServer := startMetricsServer(ctx, tel, cfg.MetricsAddr)
		defer stopServer()
	}

	session, closeSession, err := buildSession(ctx, cfg, specs, tel)
	if err != nil {
		return err
	}
	defer closeSession()

	report, err := session.Run(ctx)
	if err != nil {
		logger.Error("sync aborted", "err", err)

		return err
	}

	if !report.OK() {
		return &downloadsFailedError{failed: len(report.Failed()), total: len(report.Results)}
	}

	logger.Info("sync completed", "databases", len(report.Results))

	return nil
}

// buildSession wires the session collaborators from config. The returned
// close function releases resources owned by optional collaborators.
func buildSession(
	ctx context.Context,
	cfg *config.Config,
	specs []catalog.DatabaseSpec,
	tel *telemetry.Telemetry,
) (*syncer.Session, func(), error) {
	userAgent := "geoipsync/" + version
	retries := uint(max(cfg.Retries, 1))

	authClient := authapi.NewClient(cfg.Endpoint, cfg.APIKey,
		authapi.WithMaxTries(retries),
		authapi.WithUserAgent(userAgent),
	)

	fetcher := fetch.NewClient(
		fetch.WithMaxTries(retries),
		fetch.WithFileTimeout(cfg.Timeout),
		fetch.WithUserAgent(userAgent),
	)

	orchestrator := syncer.NewOrchestrator(fetcher, cfg.TargetDir, cfg.Concurrency, tel)

	opts := []syncer.SessionOption{}
	closeFns := []func(){}

	if !cfg.NoLock {
		guard, err := lockfile.NewGuard(cfg.TargetDir, cfg.LockMaxAge)
		if err != nil {
			return nil, nil, err
		}

		opts = append(opts, syncer.WithLockGuard(guard))
	}

	if cfg.WebhookURL != "" {
		opts = append(opts, syncer.WithNotifier(&notifier.WebhookNotifier{WebhookURL: cfg.WebhookURL}))
	}

	if cfg.HistoryDB != "" {
		db, err := sqlite.InitDB(cfg.HistoryDB)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open history database: %w", err)
		}

		closeFns = append(closeFns, func() { db.Close() })
		opts = append(opts, syncer.WithHistory(sqlite.NewHistoryRepository(db)))
	}

	session := syncer.NewSession(specs, cfg.TargetDir, authClient, orchestrator, tel, opts...)

	return session, func() {
		for _, fn := range closeFns {
			fn()
		}
	}, nil
}

// startMetricsServer serves /metrics and /healthz for the duration of the
// run. Returns a function that shuts the server down.
func startMetricsServer(ctx context.Context, tel *telemetry.Telemetry, addr string) func() {
	logger := logctx.LoggerFromContext(ctx)

	r := chi.NewRouter()
	r.Handle("/metrics", tel.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down metrics server", "err", err)
		}
	}
}

// setupLogger builds the JSON logger, fanning out to a log file when one is
// configured.
func setupLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	handlerOpts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	stdout := slog.NewJSONHandler(os.Stdout, handlerOpts)

	if cfg.LogFile == "" {
		return slog.New(stdout), func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	handler := slogmulti.Fanout(stdout, slog.NewJSONHandler(f, handlerOpts))

	return slog.New(handler), func() { f.Close() }, nil
}
