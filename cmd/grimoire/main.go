package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/grimoire-api/cmd/grimoire/cli"
	"github.com/noah-isme/grimoire-api/internal/app"
	"github.com/noah-isme/grimoire-api/internal/auth"
	"github.com/noah-isme/grimoire-api/internal/catalog"
	"github.com/noah-isme/grimoire-api/internal/characters"
	"github.com/noah-isme/grimoire-api/internal/images"
	"github.com/noah-isme/grimoire-api/internal/items"
	"github.com/noah-isme/grimoire-api/internal/observability"
	"github.com/noah-isme/grimoire-api/internal/platform/cache"
	"github.com/noah-isme/grimoire-api/internal/platform/db"
	"github.com/noah-isme/grimoire-api/internal/users"
	"github.com/noah-isme/grimoire-api/jobs"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobsCommand(os.Args[2:]))
	}

	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)
	metrics := observability.NewMetrics()

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, pageCache, logger)
	usersHandler := users.NewHandler(logger, usersService)

	authService := auth.NewService(usersService, tokens, logger)
	authHandler := auth.NewHandler(logger, authService)

	itemsRepo := items.NewRepository(pool)
	itemsService := items.NewService(itemsRepo, pageCache, logger)
	itemsHandler := items.NewHandler(logger, itemsService)

	charactersRepo := characters.NewRepository(pool)
	charactersService := characters.NewService(charactersRepo, pageCache, logger)
	charactersHandler := characters.NewHandler(logger, charactersService)

	imagesRepo := images.NewRepository(pool)
	imagesService := images.NewService(imagesRepo, pageCache, logger)
	imagesHandler := images.NewHandler(logger, imagesService)

	var catalogHandlers []*catalog.Handler
	for _, def := range catalog.Definitions() {
		repo := catalog.NewRepository(pool, def)
		service := catalog.NewService(def, repo, pageCache, logger)
		catalogHandlers = append(catalogHandlers, catalog.NewHandler(logger, service))
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Pool:              pool,
		Redis:             redisClient,
		Tokens:            tokens,
		Metrics:           metrics,
		AuthHandler:       authHandler,
		UsersHandler:      usersHandler,
		ItemsHandler:      itemsHandler,
		CharactersHandler: charactersHandler,
		ImagesHandler:     imagesHandler,
		CatalogHandlers:   catalogHandlers,
		JobsHandler:       jobsHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runJobsCommand handles `grimoire jobs trigger <task>` and `grimoire jobs stats`
// against the queue configured through REDIS_ADDR.
func runJobsCommand(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: grimoire jobs [trigger <task>|stats]")
		return 2
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 1
	}

	ops, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init jobs cli:", err)
		return 1
	}
	defer func() { _ = ops.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: grimoire jobs trigger <task>")
			return 2
		}
		info, err := ops.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, "trigger:", err)
			return 1
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := ops.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "inspect queue:", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		fmt.Fprintln(os.Stderr, "unknown jobs command:", args[0])
		return 2
	}
	return 0
}
