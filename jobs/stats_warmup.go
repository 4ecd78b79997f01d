package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/grimoire-api/internal/observability"
)

// StatsWarmer precomputes one resource's stats payload into the cache.
type StatsWarmer interface {
	WarmStats(ctx context.Context) error
}

// StatsWarmupJob warms every registered resource so the first privileged
// stats request after an invalidation does not pay the aggregation cost.
type StatsWarmupJob struct {
	Warmers map[string]StatsWarmer
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewStatsWarmupJob wires dependencies for the warmup handler. Keys name the
// resource in logs and metrics.
func NewStatsWarmupJob(warmers map[string]StatsWarmer, logger *slog.Logger, metrics *observability.Metrics) *StatsWarmupJob {
	return &StatsWarmupJob{Warmers: warmers, Logger: logger, Metrics: metrics}
}

// Handle processes stats warmup tasks. One failing resource does not stop
// the others; the task fails if any resource failed so asynq retries.
func (j *StatsWarmupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil {
		return errors.New("stats warmup: handler not configured")
	}
	var failed []string
	for name, warmer := range j.Warmers {
		if err := warmer.WarmStats(ctx); err != nil {
			j.Logger.Error("warm stats", slog.String("resource", name), slog.Any("error", err))
			failed = append(failed, name)
			continue
		}
		j.Logger.Debug("warmed stats", slog.String("resource", name))
	}
	var err error
	if len(failed) > 0 {
		err = errors.New("stats warmup failed for: " + strings.Join(failed, ", "))
	}
	j.Metrics.ObserveJob(TaskStatsWarmup, err)
	return err
}
