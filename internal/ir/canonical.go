package ir

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Canonical returns the canonical form of an identifier: NFC-normalized
// and trimmed. Relation and column names are compared in this form, so
// a name typed with a decomposed accent resolves to the same relation.
//
// Case is preserved; SQLite and the generated SQL are case-insensitive
// for identifiers, but callbacks receive names as declared.
func Canonical(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// SameName reports whether two identifiers are equal in canonical form,
// ignoring ASCII case.
func SameName(a, b string) bool {
	return strings.EqualFold(Canonical(a), Canonical(b))
}
