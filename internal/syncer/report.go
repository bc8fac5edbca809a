package syncer

import (
	"context"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/geoipdb/geoipsync/internal/logctx"
	"github.com/samber/lo"
)

// Outcome is the terminal state of one download task.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// TaskResult is the terminal outcome of one requested database.
type TaskResult struct {
	Name      string
	Outcome   Outcome
	SizeBytes int64
	Duration  time.Duration
	Warning   string
	Err       error
}

// Report aggregates per-database outcomes for one sync run. The run as a
// whole failed if any task failed; tasks succeed or fail independently.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Results    map[string]TaskResult
}

// OK reports whether every task succeeded.
func (r *Report) OK() bool {
	return len(r.Failed()) == 0
}

// Failed returns the failed results sorted by database name.
func (r *Report) Failed() []TaskResult {
	return r.filter(OutcomeFailed)
}

// Succeeded returns the successful results sorted by database name.
func (r *Report) Succeeded() []TaskResult {
	return r.filter(OutcomeSuccess)
}

// FailedNames returns the names of all failed databases, sorted.
func (r *Report) FailedNames() []string {
	return lo.Map(r.Failed(), func(res TaskResult, _ int) string {
		return res.Name
	})
}

// Log writes the per-database outcomes and the summary line. Every failed
// database is named together with its last error; a silent partial failure
// is a defect.
func (r *Report) Log(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	for _, res := range r.Succeeded() {
		attrs := []any{
			"database", res.Name,
			"size", humanize.Bytes(uint64(res.SizeBytes)),
			"duration", res.Duration.Round(time.Millisecond).String(),
		}

		if res.Warning != "" {
			logger.Warn("database synced with warning", append(attrs, "warning", res.Warning)...)

			continue
		}

		logger.Info("database synced", attrs...)
	}

	for _, res := range r.Failed() {
		logger.Error("database sync failed", "database", res.Name, "err", res.Err)
	}

	logger.Info("sync summary",
		"total", len(r.Results),
		"succeeded", len(r.Succeeded()),
		"failed", len(r.Failed()),
		"elapsed", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	)
}

func (r *Report) filter(outcome Outcome) []TaskResult {
	results := lo.Filter(lo.Values(r.Results), func(res TaskResult, _ int) bool {
		return res.Outcome == outcome
	})

	sort.Slice(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})

	return results
}
