// Package shared holds the error taxonomy and request-scoped helpers used
// across every resource module.
package shared

import "errors"

// The four user-visible failure kinds, plus unauthorized for the token
// boundary. Services wrap these with %w; the httpx layer maps them to
// problem documents with stable machine codes. Raw storage errors never
// reach the caller.
var (
	// ErrNotFound covers both truly absent rows and rows concealed by
	// visibility. The two are indistinguishable on purpose.
	ErrNotFound = errors.New("not found")
	// ErrForbidden means the row is viewable but the caller may not mutate
	// it, or the operation needs a privileged role.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict covers name uniqueness violations and in-use deletes.
	ErrConflict = errors.New("conflict")
	// ErrValidation covers malformed cursors, unknown sort fields and other
	// rejected input.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized means authentication is required or the token is bad.
	ErrUnauthorized = errors.New("unauthorized")
)
