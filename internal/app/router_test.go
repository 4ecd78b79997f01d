package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grimoire-api/internal/auth"
	"github.com/noah-isme/grimoire-api/internal/characters"
	"github.com/noah-isme/grimoire-api/internal/images"
	"github.com/noah-isme/grimoire-api/internal/items"
	"github.com/noah-isme/grimoire-api/internal/observability"
	_ "github.com/noah-isme/grimoire-api/internal/testing/guard"
	"github.com/noah-isme/grimoire-api/internal/users"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	RefreshTestMode()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{AppRequestTimeout: 5 * time.Second}
	tokens := auth.NewTokens("test-secret", time.Hour)

	return NewRouter(RouterParams{
		Logger:            logger,
		Config:            cfg,
		Tokens:            tokens,
		Metrics:           observability.NewMetrics(),
		AuthHandler:       auth.NewHandler(logger, nil),
		UsersHandler:      users.NewHandler(logger, nil),
		ItemsHandler:      items.NewHandler(logger, nil),
		CharactersHandler: characters.NewHandler(logger, nil),
		ImagesHandler:     images.NewHandler(logger, nil),
	})
}

func TestHealthzReportsDegradedWithoutBackends(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status   string `json:"status"`
		Database string `json:"database"`
		Cache    string `json:"cache"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, "unavailable", body.Database)
	require.Equal(t, "unavailable", body.Cache)
}

func TestMetricsEndpointExposed(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMutationsRequireAuthentication(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/items", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSecurityHeadersApplied(t *testing.T) {
	router := testRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
