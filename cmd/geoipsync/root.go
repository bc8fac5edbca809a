package main

import (
	"github.com/geoipdb/geoipsync/internal/config"
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. Flag defaults come from the
// environment-populated config, so a flag given on the command line always
// wins over its environment variable.
func newRootCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "geoipsync",
		Short:   "Synchronize GeoIP databases into a local directory",
		Long: `geoipsync authenticates against the geoipdb.net distribution service,
obtains signed download URLs and mirrors the selected databases into a
local directory. Files are validated and installed atomically, so readers
never observe a partial database.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cfg)
		},
	}

	cmd.PersistentFlags().StringVarP(&cfg.TargetDir, "directory", "d", cfg.TargetDir, "target directory for database files")

	flags := cmd.Flags()
	flags.StringVarP(&cfg.APIKey, "api-key", "k", cfg.APIKey, "API key for the auth service (or GEOIPSYNC_API_KEY)")
	flags.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "auth service endpoint URL")
	flags.StringSliceVar(&cfg.Databases, "databases", cfg.Databases, "databases to sync: 'all', canonical names or aliases")
	flags.IntVarP(&cfg.Concurrency, "concurrency", "c", cfg.Concurrency, "maximum parallel downloads")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "wall-clock budget for the whole run")
	flags.IntVar(&cfg.Retries, "retries", cfg.Retries, "attempts per network operation")
	flags.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also write logs to this file")
	flags.BoolVarP(&cfg.Quiet, "quiet", "q", cfg.Quiet, "log errors only")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "log debug detail")
	flags.BoolVar(&cfg.NoLock, "no-lock", cfg.NoLock, "skip the single-instance lock")
	flags.DurationVar(&cfg.LockMaxAge, "lock-max-age", cfg.LockMaxAge, "age after which a leftover lock is considered stale")
	flags.StringVar(&cfg.WebhookURL, "webhook-url", cfg.WebhookURL, "webhook to notify when the run finishes")
	flags.StringVar(&cfg.HistoryDB, "history-db", cfg.HistoryDB, "SQLite file recording sync history")
	flags.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve Prometheus metrics on this address for the run")

	cmd.AddCommand(newDatabasesCmd())
	cmd.AddCommand(newValidateCmd(cfg))

	return cmd
}
