package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/grimoire-api/internal/access"
	"github.com/noah-isme/grimoire-api/internal/shared"
)

func identityEcho(t *testing.T, captured **access.Identity) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = shared.IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestMiddlewarePassesAnonymousThrough(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	var got *access.Identity
	handler := Middleware(tokens)(identityEcho(t, &got))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Nil(t, got)
}

func TestMiddlewareResolvesBearerToken(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	id := access.Identity{ID: uuid.New(), Role: access.RoleUser}
	raw, err := tokens.Issue(id)
	require.NoError(t, err)

	var got *access.Identity
	handler := Middleware(tokens)(identityEcho(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, got)
	require.Equal(t, id.ID, got.ID)
}

func TestMiddlewareRejectsInvalidToken(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	var got *access.Identity
	handler := Middleware(tokens)(identityEcho(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Nil(t, got)
}

func TestMiddlewareRejectsNonBearerScheme(t *testing.T) {
	tokens := NewTokens("test-secret", time.Hour)
	var got *access.Identity
	handler := Middleware(tokens)(identityEcho(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Nil(t, got)
}

func TestRequireAuthRejectsAnonymous(t *testing.T) {
	var got *access.Identity
	handler := RequireAuth(identityEcho(t, &got))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthPassesAuthenticated(t *testing.T) {
	var got *access.Identity
	handler := RequireAuth(identityEcho(t, &got))

	id := &access.Identity{ID: uuid.New(), Role: access.RoleUser}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(shared.ContextWithIdentity(req.Context(), id))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, id, got)
}
