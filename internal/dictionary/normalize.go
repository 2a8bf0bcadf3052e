package dictionary

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// diacriticStripper decomposes to NFD, drops combining marks (category Mn),
// and recomposes to NFC — the standard transform-chain idiom for accent
// folding ("José" → "Jose").
var diacriticStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var lowerCaser = cases.Lower(language.Und)

// normalizeKey canonicalizes a dictionary lookup key: NFKC normalization,
// diacritic stripping, then lower-casing (spec.md §4.1). Every Store lookup
// and every phonetic index key goes through this function so "José",
// "JOSE", and "jose" are the same entry.
func normalizeKey(s string) string {
	s = norm.NFKC.String(s)
	if out, _, err := transform.String(diacriticStripper, s); err == nil {
		s = out
	}
	return lowerCaser.String(s)
}

// normalizeWhitespace collapses internal runs of whitespace to a single
// space and trims the ends, used when classifying multi-word phrases
// against the non-PHI vocabulary.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
