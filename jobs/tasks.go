// Package jobs holds the background tasks: periodic stats warmup and the
// orphan image sweep, both scheduled through asynq.
package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStatsWarmup precomputes the hot stats payloads into the cache.
	TaskStatsWarmup = "stats:warmup"
	// TaskOrphanSweep deletes unreferenced image rows past the grace period.
	TaskOrphanSweep = "images:orphan_sweep"
)

// NewStatsWarmupTask constructs the warmup task. It carries no payload; the
// worker warms every registered resource.
func NewStatsWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskStatsWarmup, nil)
}

// NewOrphanSweepTask constructs the sweep task.
func NewOrphanSweepTask() *asynq.Task {
	return asynq.NewTask(TaskOrphanSweep, nil)
}
