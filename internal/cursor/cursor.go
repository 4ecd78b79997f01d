// Package cursor implements the keyset pagination protocol shared by every
// list endpoint: opaque continuation tokens, per-resource sort field
// allow-lists and the comparison predicates that keep pages stable under
// concurrent writes.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformed is returned when a supplied cursor does not decode. Decoding
// fails closed; list endpoints reject rather than silently starting over.
var ErrMalformed = errors.New("malformed cursor")

// Cursor is the self-describing continuation token: the sort field value and
// id of the last row of the previous page. It is minted by a list call and
// replayed verbatim by the client; nothing is kept server-side.
type Cursor struct {
	LastValue string    `json:"v"`
	LastID    uuid.UUID `json:"id"`
}

// Encode serializes the cursor as an opaque URL-safe string. The byte layout
// is not a compatibility contract; cursors are never persisted cross-version.
func Encode(c Cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses an opaque cursor string, rejecting anything that does not
// round-trip into {lastValue, lastId}.
func Decode(raw string) (Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.LastID == uuid.Nil {
		return Cursor{}, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	return c, nil
}

// TimeValue stringifies a timestamp for cursor transport.
func TimeValue(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Direction of the primary sort. The id tie-break always follows it.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Field describes one entry of a resource's sort allow-list. Column is the
// SQL expression; Cast is appended to cursor placeholders so string-encoded
// values compare under the column's type (e.g. "::timestamptz").
type Field struct {
	Column string
	Cast   string
}

// Fields maps caller-facing sort names to columns. Resolving sortBy through
// this map is what keeps caller input out of the generated SQL.
type Fields map[string]Field

// Sort is a validated (field, direction) pair ready to emit SQL.
type Sort struct {
	name   string
	column string
	cast   string
	dir    Direction
}

// ParseSort validates sortBy and sortDir against the allow-list. Empty sortBy
// falls back to fallback; empty sortDir defaults to descending.
func ParseSort(fields Fields, sortBy, sortDir, fallback string) (Sort, error) {
	if sortBy == "" {
		sortBy = fallback
	}
	f, ok := fields[sortBy]
	if !ok {
		return Sort{}, fmt.Errorf("unknown sort field %q", sortBy)
	}

	dir := Desc
	switch strings.ToLower(sortDir) {
	case "", "desc":
	case "asc":
		dir = Asc
	default:
		return Sort{}, fmt.Errorf("invalid sort direction %q", sortDir)
	}

	return Sort{name: sortBy, column: f.Column, cast: f.Cast, dir: dir}, nil
}

// FieldName returns the validated caller-facing sort field name.
func (s Sort) FieldName() string { return s.name }

// Direction returns the validated sort direction.
func (s Sort) Direction() Direction { return s.dir }

// OrderBy renders the ORDER BY key. The id column is always appended in the
// same direction so the order is total even when the primary field has
// duplicates; without the tie-break pages could skip or repeat rows.
func (s Sort) OrderBy(prefix string) string {
	d := "DESC"
	if s.dir == Asc {
		d = "ASC"
	}
	return fmt.Sprintf("%s%s %s, %sid %s", prefix, s.column, d, prefix, d)
}

// Predicate renders the continuation condition for a consumed cursor:
// rows strictly after (lastValue, lastId) in the sort order. Placeholders
// start at argPos; the returned int is the next free position.
func (s Sort) Predicate(c Cursor, prefix string, argPos int) (string, []any, int) {
	op := "<"
	if s.dir == Asc {
		op = ">"
	}
	cond := fmt.Sprintf("(%s%s %s $%d%s OR (%s%s = $%d%s AND %sid %s $%d))",
		prefix, s.column, op, argPos, s.cast,
		prefix, s.column, argPos+1, s.cast,
		prefix, op, argPos+2)
	return cond, []any{c.LastValue, c.LastValue, c.LastID}, argPos + 3
}

const (
	// DefaultLimit applies when the caller does not ask for a page size.
	DefaultLimit = 20
	// MaxLimit bounds page size from above.
	MaxLimit = 100
)

// ClampLimit normalizes a requested page size into [1, MaxLimit].
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// PageInfo is the pagination envelope of every list response. HasPrev is the
// documented approximation "a cursor was supplied on this request", not a
// verified earlier-page check.
type PageInfo struct {
	Limit      int     `json:"limit"`
	HasNext    bool    `json:"hasNext"`
	HasPrev    bool    `json:"hasPrev"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

// Trim applies the limit+1 convention: repositories fetch one extra row to
// detect a next page without a second round trip.
func Trim[T any](rows []T, limit int) ([]T, bool) {
	if len(rows) > limit {
		return rows[:limit], true
	}
	return rows, false
}

// NewPageInfo assembles the envelope, minting the next cursor when more rows
// exist beyond this page.
func NewPageInfo(limit int, hasNext, hadCursor bool, next Cursor) PageInfo {
	info := PageInfo{Limit: limit, HasNext: hasNext, HasPrev: hadCursor}
	if hasNext {
		token := Encode(next)
		info.NextCursor = &token
	}
	return info
}
