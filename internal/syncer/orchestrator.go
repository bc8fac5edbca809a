package syncer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/geoipdb/geoipsync/internal/catalog"
	"github.com/geoipdb/geoipsync/internal/fetch"
	"github.com/geoipdb/geoipsync/internal/logctx"
	"github.com/geoipdb/geoipsync/internal/telemetry"
	"github.com/geoipdb/geoipsync/internal/validate"
	"golang.org/x/sync/errgroup"
)

// Task is one requested database: its catalog spec, the signed URL issued
// for it, and where it lands. A task is owned exclusively by the worker that
// processes it.
type Task struct {
	Spec      catalog.DatabaseSpec
	SignedURL string
	DestPath  string
	TempPath  string
}

// Orchestrator fans requested databases out to a bounded worker pool. Each
// task runs download, size check, format validation, and atomic install
// strictly in order; tasks have no ordering guarantees between each other
// and never share state beyond the result channel.
type Orchestrator struct {
	fetcher     *fetch.Client
	targetDir   string
	concurrency int
	tel         *telemetry.Telemetry
}

func NewOrchestrator(fetcher *fetch.Client, targetDir string, concurrency int, tel *telemetry.Telemetry) *Orchestrator {
	return &Orchestrator{
		fetcher:     fetcher,
		targetDir:   targetDir,
		concurrency: concurrency,
		tel:         tel,
	}
}

// Run downloads every requested database and aggregates the terminal
// outcomes. It is best-effort: a failed task never aborts its siblings.
// Cancelling ctx stops dispatch and fails the remaining tasks.
func (o *Orchestrator) Run(ctx context.Context, specs []catalog.DatabaseSpec, urls map[string]string) *Report {
	logger := logctx.LoggerFromContext(ctx)

	report := &Report{
		StartedAt: time.Now(),
		Results:   make(map[string]TaskResult, len(specs)),
	}

	tasks := make([]Task, 0, len(specs))

	for _, spec := range specs {
		url, ok := urls[spec.Name]
		if !ok {
			report.Results[spec.Name] = TaskResult{
				Name:    spec.Name,
				Outcome: OutcomeFailed,
				Err:     fmt.Errorf("auth service issued no URL for this database"),
			}

			continue
		}

		tasks = append(tasks, Task{
			Spec:      spec,
			SignedURL: url,
			DestPath:  filepath.Join(o.targetDir, spec.Name),
			TempPath:  filepath.Join(o.targetDir, spec.Name+".partial."+randomSuffix()),
		})
	}

	results := make(chan TaskResult, len(tasks))
	sem := make(chan struct{}, o.concurrency)

	wg, ctx := errgroup.WithContext(ctx)

dispatch:
	for i := range tasks {
		task := tasks[i]

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			logger.Warn("run deadline reached, not dispatching remaining tasks")

			for _, rest := range tasks[i:] {
				results <- TaskResult{
					Name:    rest.Spec.Name,
					Outcome: OutcomeFailed,
					Err:     fmt.Errorf("not attempted: %w", ctx.Err()),
				}
			}

			break dispatch
		}

		wg.Go(func() error {
			defer func() { <-sem }()

			results <- o.process(ctx, task)

			return nil
		})
	}

	wg.Wait()
	close(results)

	for res := range results {
		report.Results[res.Name] = res
	}

	report.FinishedAt = time.Now()

	return report
}

// process runs one task to its terminal outcome. Download failures have
// already been retried by the fetch client; a too-small file or an invalid
// format is a content problem that retrying cannot fix, so those fail
// immediately.
func (o *Orchestrator) process(ctx context.Context, task Task) TaskResult {
	logger := logctx.LoggerFromContext(ctx).With("database", task.Spec.Name)
	start := time.Now()

	o.tel.IncrementActiveDownloads()
	defer o.tel.DecrementActiveDownloads()

	fail := func(err error) TaskResult {
		os.Remove(task.TempPath)
		o.tel.RecordDownload("error", time.Since(start), 0)

		return TaskResult{
			Name:     task.Spec.Name,
			Outcome:  OutcomeFailed,
			Duration: time.Since(start),
			Err:      err,
		}
	}

	logger.Debug("starting download", "target", task.DestPath)

	size, err := o.fetcher.Download(ctx, task.SignedURL, task.TempPath)
	if err != nil {
		return fail(fmt.Errorf("download failed: %w", err))
	}

	if size < task.Spec.MinSizeBytes {
		return fail(fmt.Errorf("downloaded file too small: %d bytes, expected at least %d", size, task.Spec.MinSizeBytes))
	}

	result, err := validate.File(task.TempPath, task.Spec.Format)
	if err != nil {
		return fail(fmt.Errorf("validation error: %w", err))
	}

	if !result.Valid {
		return fail(fmt.Errorf("invalid %s file: %s", task.Spec.Format, result.Reason))
	}

	// Same filesystem as the destination, so the rename is atomic and
	// readers never observe a partial file.
	if err := os.Rename(task.TempPath, task.DestPath); err != nil {
		return fail(fmt.Errorf("failed to install file: %w", err))
	}

	o.tel.RecordDownload("success", time.Since(start), size)

	return TaskResult{
		Name:      task.Spec.Name,
		Outcome:   OutcomeSuccess,
		SizeBytes: size,
		Duration:  time.Since(start),
		Warning:   result.Reason,
	}
}

func randomSuffix() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)

	return hex.EncodeToString(b)
}
