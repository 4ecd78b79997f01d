package shared

import (
	"context"

	"github.com/noah-isme/grimoire-api/internal/access"
)

type identityContextKey struct{}

// ContextWithIdentity stores the verified caller identity in the context.
func ContextWithIdentity(ctx context.Context, id *access.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity. A nil result is a valid
// anonymous caller.
func IdentityFromContext(ctx context.Context) *access.Identity {
	id, _ := ctx.Value(identityContextKey{}).(*access.Identity)
	return id
}
