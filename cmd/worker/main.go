package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/grimoire-api/internal/app"
	"github.com/noah-isme/grimoire-api/internal/catalog"
	"github.com/noah-isme/grimoire-api/internal/characters"
	"github.com/noah-isme/grimoire-api/internal/images"
	"github.com/noah-isme/grimoire-api/internal/items"
	"github.com/noah-isme/grimoire-api/internal/observability"
	"github.com/noah-isme/grimoire-api/internal/platform/cache"
	"github.com/noah-isme/grimoire-api/internal/platform/db"
	"github.com/noah-isme/grimoire-api/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	pageCache := cache.NewPageCache(redisClient, cfg.CacheTTL)
	metrics := observability.NewMetrics()

	itemsService := items.NewService(items.NewRepository(pool), pageCache, logger)
	charactersService := characters.NewService(characters.NewRepository(pool), pageCache, logger)
	imagesService := images.NewService(images.NewRepository(pool), pageCache, logger)

	warmers := map[string]jobs.StatsWarmer{
		"items":      itemsService,
		"characters": charactersService,
		"images":     imagesService,
	}
	for _, def := range catalog.Definitions() {
		warmers[def.Path] = catalog.NewService(def, catalog.NewRepository(pool, def), pageCache, logger)
	}

	warmupJob := jobs.NewStatsWarmupJob(warmers, logger, metrics)
	sweepJob := jobs.NewOrphanSweepJob(imagesService, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStatsWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskOrphanSweep, Handler: sweepJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every 10m", Task: jobs.NewStatsWarmupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "@hourly", Task: jobs.NewOrphanSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
