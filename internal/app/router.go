package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/grimoire-api/internal/auth"
	"github.com/noah-isme/grimoire-api/internal/catalog"
	"github.com/noah-isme/grimoire-api/internal/characters"
	"github.com/noah-isme/grimoire-api/internal/images"
	"github.com/noah-isme/grimoire-api/internal/items"
	"github.com/noah-isme/grimoire-api/internal/observability"
	"github.com/noah-isme/grimoire-api/internal/platform/httpx"
	"github.com/noah-isme/grimoire-api/internal/users"
	"github.com/noah-isme/grimoire-api/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Tokens  *auth.Tokens
	Metrics *observability.Metrics

	AuthHandler       *auth.Handler
	UsersHandler      *users.Handler
	ItemsHandler      *items.Handler
	CharactersHandler *characters.Handler
	ImagesHandler     *images.Handler
	CatalogHandlers   []*catalog.Handler
	JobsHandler       *jobs.Handler
}

// NewRouter constructs the chi router: middleware stack, health and metrics
// endpoints and every resource mounted under /api/v1.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Auth:    auth.Middleware(params.Tokens),
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler(params.Pool, params.Redis))
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		params.AuthHandler.MountRoutes(r)
		params.UsersHandler.MountRoutes(r, auth.RequireAuth)
		params.ItemsHandler.MountRoutes(r, auth.RequireAuth)
		params.CharactersHandler.MountRoutes(r, auth.RequireAuth)
		params.ImagesHandler.MountRoutes(r, auth.RequireAuth)
		for _, h := range params.CatalogHandlers {
			h.MountRoutes(r, auth.RequireAuth)
		}
	})

	return r
}

type healthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache"`
}

// healthHandler pings the database and redis with a short deadline. Any
// failing dependency degrades the overall status and the response code.
func healthHandler(pool *pgxpool.Pool, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := healthStatus{Status: "ok", Database: "ok", Cache: "ok"}
		code := http.StatusOK

		if pool == nil || pool.Ping(ctx) != nil {
			status.Database = "unavailable"
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
		if rdb == nil || rdb.Ping(ctx).Err() != nil {
			status.Cache = "unavailable"
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
		}

		httpx.JSON(w, code, status)
	}
}
