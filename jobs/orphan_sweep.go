package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/grimoire-api/internal/images"
	"github.com/noah-isme/grimoire-api/internal/observability"
)

// OrphanSweepJob removes image rows nothing references anymore, after the
// grace period that protects uploads still waiting for their owning entity.
type OrphanSweepJob struct {
	Images  *images.Service
	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// NewOrphanSweepJob wires dependencies for the sweep handler.
func NewOrphanSweepJob(imageSvc *images.Service, logger *slog.Logger, metrics *observability.Metrics) *OrphanSweepJob {
	return &OrphanSweepJob{Images: imageSvc, Logger: logger, Metrics: metrics}
}

// Handle processes orphan sweep tasks.
func (j *OrphanSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil {
		return errors.New("orphan sweep: handler not configured")
	}
	removed, err := j.Images.SweepOrphans(ctx)
	j.Metrics.ObserveJob(TaskOrphanSweep, err)
	if err != nil {
		j.Logger.Error("orphan sweep", slog.Any("error", err))
		return err
	}
	if removed > 0 {
		j.Logger.Info("orphan sweep removed images", slog.Int("count", removed))
	}
	return nil
}
