package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the immutable run configuration. It is populated once at startup
// from environment variables, then overridden by CLI flags; no other
// component reads ambient environment state.
type Config struct {
	APIKey    string   `envconfig:"GEOIPSYNC_API_KEY"`
	Endpoint  string   `envconfig:"GEOIPSYNC_ENDPOINT" default:"https://geoipdb.net/auth"`
	TargetDir string   `envconfig:"GEOIPSYNC_TARGET_DIR" default:"./geoip"`
	Databases []string `envconfig:"GEOIPSYNC_DATABASES" default:"all"`

	Concurrency int           `envconfig:"GEOIPSYNC_CONCURRENCY" default:"4"`
	Timeout     time.Duration `envconfig:"GEOIPSYNC_TIMEOUT" default:"5m"`
	Retries     int           `envconfig:"GEOIPSYNC_RETRIES" default:"3"`

	LogLevel string `envconfig:"GEOIPSYNC_LOG_LEVEL" default:"INFO"`
	LogFile  string `envconfig:"GEOIPSYNC_LOG_FILE"`
	Quiet    bool   `envconfig:"GEOIPSYNC_QUIET"`
	Verbose  bool   `envconfig:"GEOIPSYNC_VERBOSE"`

	NoLock     bool          `envconfig:"GEOIPSYNC_NO_LOCK"`
	LockMaxAge time.Duration `envconfig:"GEOIPSYNC_LOCK_MAX_AGE" default:"1h"`

	WebhookURL   string `envconfig:"GEOIPSYNC_WEBHOOK_URL"`
	HistoryDB    string `envconfig:"GEOIPSYNC_HISTORY_DB"`
	MetricsAddr  string `envconfig:"GEOIPSYNC_METRICS_ADDR"`
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads environment variables and populates the Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for values that would make a sync run
// impossible. It is called after flag overrides are applied.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api key not provided: use --api-key or set GEOIPSYNC_API_KEY")
	}

	if !validAPIKey(c.APIKey) {
		return fmt.Errorf("invalid api key format")
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint not provided")
	}

	if c.TargetDir == "" {
		return fmt.Errorf("target directory not provided")
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}

	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}

	return nil
}

// SlogLevel maps the logging settings to a slog.Level. Quiet wins over
// verbose; both win over LOG_LEVEL.
func (c *Config) SlogLevel() slog.Level {
	switch {
	case c.Quiet:
		return slog.LevelError
	case c.Verbose:
		return slog.LevelDebug
	}

	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// validAPIKey accepts 8-64 characters of [A-Za-z0-9_-]. The auth service
// never issues keys outside this shape, so anything else is a typo worth
// catching before the first request.
func validAPIKey(key string) bool {
	if len(key) < 8 || len(key) > 64 {
		return false
	}

	for _, c := range key {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}

	return true
}
