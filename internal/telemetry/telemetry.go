// Package telemetry bootstraps OpenTelemetry metrics for sync runs. Metrics
// are exposed on a Prometheus endpoint when one is configured, and pushed
// over OTLP gRPC when an OTLP endpoint is configured; both are optional.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint enables a periodic OTLP gRPC push when non-empty.
	OTLPEndpoint string
}

// Telemetry holds the meter provider and the sync instruments. A nil or
// disabled Telemetry is safe to call; every method no-ops.
type Telemetry struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	exporter      *prometheus.Exporter

	syncRunsTotal    metric.Int64Counter
	downloadsTotal   metric.Int64Counter
	downloadsActive  metric.Int64UpDownCounter
	downloadDuration metric.Float64Histogram
	downloadBytes    metric.Int64Counter
	authRetriesTotal metric.Int64Counter
}

// New creates a telemetry instance and installs it as the global meter
// provider.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	readers := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

	if cfg.OTLPEndpoint != "" {
		otlp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlp)))
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)
	readers = append(readers, sdkmetric.WithResource(res))

	meterProvider := sdkmetric.NewMeterProvider(readers...)
	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initInstruments(); err != nil {
		return nil, err
	}

	if err := runtime.Start(); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	return t, nil
}

// RecordRun records the terminal status of a whole sync run.
func (t *Telemetry) RecordRun(status string) {
	if t == nil || t.syncRunsTotal == nil {
		return
	}

	t.syncRunsTotal.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordDownload records one terminal download outcome.
func (t *Telemetry) RecordDownload(status string, duration time.Duration, bytes int64) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("status", status))

	if t == nil {
		return
	}

	if t.downloadsTotal != nil {
		t.downloadsTotal.Add(ctx, 1, attrs)
	}

	if t.downloadDuration != nil {
		t.downloadDuration.Record(ctx, duration.Seconds(), attrs)
	}

	if t.downloadBytes != nil && bytes > 0 {
		t.downloadBytes.Add(ctx, bytes, attrs)
	}
}

// IncrementActiveDownloads increments the in-flight download gauge.
func (t *Telemetry) IncrementActiveDownloads() {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), 1)
	}
}

// DecrementActiveDownloads decrements the in-flight download gauge.
func (t *Telemetry) DecrementActiveDownloads() {
	if t != nil && t.downloadsActive != nil {
		t.downloadsActive.Add(context.Background(), -1)
	}
}

// RecordAuthRetry counts retried authentication attempts.
func (t *Telemetry) RecordAuthRetry() {
	if t != nil && t.authRetriesTotal != nil {
		t.authRetriesTotal.Add(context.Background(), 1)
	}
}

// Handler returns the HTTP handler for the Prometheus metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.exporter == nil {
		return http.NotFoundHandler()
	}

	return promhttp.Handler()
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}

	return t.meterProvider.Shutdown(ctx)
}

func (t *Telemetry) initInstruments() error {
	var err error

	t.syncRunsTotal, err = t.meter.Int64Counter(
		"geoipsync_runs_total",
		metric.WithDescription("Total number of sync runs"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create runs counter: %w", err)
	}

	t.downloadsTotal, err = t.meter.Int64Counter(
		"geoipsync_downloads_total",
		metric.WithDescription("Total number of database downloads"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create downloads counter: %w", err)
	}

	t.downloadsActive, err = t.meter.Int64UpDownCounter(
		"geoipsync_downloads_active",
		metric.WithDescription("Number of downloads currently in flight"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create active downloads counter: %w", err)
	}

	t.downloadDuration, err = t.meter.Float64Histogram(
		"geoipsync_download_duration_seconds",
		metric.WithDescription("Download duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download duration histogram: %w", err)
	}

	t.downloadBytes, err = t.meter.Int64Counter(
		"geoipsync_download_bytes_total",
		metric.WithDescription("Total bytes downloaded"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create download bytes counter: %w", err)
	}

	t.authRetriesTotal, err = t.meter.Int64Counter(
		"geoipsync_auth_retries_total",
		metric.WithDescription("Total number of retried authentication attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create auth retries counter: %w", err)
	}

	return nil
}
