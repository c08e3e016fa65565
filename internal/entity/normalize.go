package entity

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName applies NFKC, trims, drops control characters, and collapses
// internal whitespace runs to one space.
func NormalizeName(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// FoldKey returns the caseless comparison key of a name.
func FoldKey(s string) string {
	// Casers hold state and cannot be shared between goroutines.
	return cases.Fold().String(NormalizeName(s))
}

// SameName reports whether a and b are equal ignoring case and spacing.
func SameName(a, b string) bool {
	return FoldKey(a) == FoldKey(b)
}

// ContainsFold reports whether name contains query ignoring case.
func ContainsFold(name, query string) bool {
	return strings.Contains(FoldKey(name), FoldKey(query))
}
