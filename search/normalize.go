package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks decomposes to NFD, removes combining marks, and recomposes,
// so "Antônio" and "Antonio" normalize to the same bytes.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize prepares a string for comparison: diacritics stripped, uppercased,
// runs of whitespace collapsed to single spaces, leading/trailing space trimmed.
// Normalize is idempotent.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		// Malformed input: fall back to the raw string rather than dropping it
		folded = s
	}
	folded = strings.ToUpper(folded)
	return strings.Join(strings.Fields(folded), " ")
}

// Tokenize splits a search term into its normalized words, preserving order.
// An empty or whitespace-only term yields no tokens.
func Tokenize(term string) []string {
	return strings.Fields(Normalize(term))
}
