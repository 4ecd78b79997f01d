package db

import "strings"

// ListArgs carries a fully built list query from a service to a repository.
// Repositories execute it verbatim and never add predicates of their own;
// the access engine stays the single source of truth for authorization.
type ListArgs struct {
	Conds   []string
	Args    []any
	OrderBy string
	// Limit already includes the +1 probe row for next-page detection.
	Limit int
}

// WhereClause joins prebuilt conditions into a WHERE clause, or returns the
// empty string when there are none.
func WhereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}
