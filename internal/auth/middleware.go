package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/noah-isme/grimoire-api/internal/platform/httpx"
	"github.com/noah-isme/grimoire-api/internal/shared"
)

// Middleware resolves the caller identity from the Authorization header.
// Requests without a token proceed anonymously; a present-but-invalid token
// is rejected so clients notice expiry instead of silently degrading to
// anonymous visibility.
func Middleware(tokens *Tokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				httpx.RespondError(w, fmt.Errorf("%w: authorization header must use the Bearer scheme", shared.ErrUnauthorized))
				return
			}
			identity, err := tokens.Verify(strings.TrimSpace(raw))
			if err != nil {
				httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrUnauthorized, err))
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// RequireAuth rejects anonymous requests. Mounted on mutation routes so an
// unauthenticated write is a 401, not a concealed 404.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.IdentityFromContext(r.Context()) == nil {
			httpx.RespondError(w, fmt.Errorf("%w: authentication required", shared.ErrUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}
