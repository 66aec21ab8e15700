package similarity

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes combining diacritical marks so "Mirō" and "Miro"
// compare equal after normalization.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize prepares free text for comparison: fold diacritics, lowercase,
// strip punctuation, and collapse whitespace.
func Normalize(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
		// Punctuation and symbols are dropped.
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Ratio computes a character-level similarity in [0,1] between two
// already-normalized strings: 1 - editDistance/maxLen. Two empty strings are
// identical (1.0); one empty and one non-empty share nothing (0.0).
func Ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	dist := levenshtein.ComputeDistance(a, b)
	if dist >= maxLen {
		return 0.0
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

// NameRatio normalizes both inputs and computes their similarity ratio.
func NameRatio(a, b string) float64 {
	return Ratio(Normalize(a), Normalize(b))
}
