package shared

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var nameFolder = cases.Fold()

// NormalizeName canonicalizes a display name for uniqueness checks: NFKC
// normalization, case folding and whitespace collapsing, so "Dawnbreaker"
// and " dawnbreaker " land on the same unique index entry.
func NormalizeName(name string) string {
	folded := nameFolder.String(norm.NFKC.String(name))
	return strings.Join(strings.Fields(folded), " ")
}
