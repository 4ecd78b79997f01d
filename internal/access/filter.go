package access

import "fmt"

// Condition returns the caller-scoped visibility predicate that list queries
// AND with their business filters, so access control happens in the WHERE
// clause rather than by post-filtering rows in memory.
//
// The fragment uses positional placeholders starting at argPos; the returned
// int is the next free position. prefix qualifies column names ("c." or "")
// for queries that join other tables. Privileged callers get no restriction.
func Condition(caller *Identity, prefix string, argPos int) (string, []any, int) {
	if caller.Privileged() {
		return "", nil, argPos
	}
	if caller == nil {
		cond := fmt.Sprintf("%svisibility IN ('PUBLIC','HIDDEN')", prefix)
		return cond, nil, argPos
	}
	cond := fmt.Sprintf("(%svisibility IN ('PUBLIC','HIDDEN') OR (%svisibility = 'PRIVATE' AND %sowner_id = $%d))",
		prefix, prefix, prefix, argPos)
	return cond, []any{caller.ID}, argPos + 1
}
