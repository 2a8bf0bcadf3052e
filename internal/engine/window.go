package engine

import (
	"unicode"

	"github.com/clinacta/phi-deidentifier/internal/span"
)

// windowSize is how many tokens on each side of a span feed the vector
// disambiguator's context window (spec.md §4.5).
const windowSize = 10

// tokenizeWords splits runes on whitespace into ordered word tokens carrying
// their rune offsets, the same unit every filter already indexes positions
// in (spec.md §3).
func tokenizeWords(runes []rune) []span.Token {
	var toks []span.Token
	i, n := 0, len(runes)
	for i < n {
		for i < n && unicode.IsSpace(runes[i]) {
			i++
		}
		if i >= n {
			break
		}
		start := i
		for i < n && !unicode.IsSpace(runes[i]) {
			i++
		}
		toks = append(toks, span.Token{Text: string(runes[start:i]), Start: start, End: i})
	}
	return toks
}

// buildWindow returns up to w word tokens immediately before s and up to w
// immediately after it, skipping any token that overlaps s itself.
func buildWindow(allTokens []span.Token, s span.Span, w int) []span.Token {
	var before, after []span.Token
	for _, t := range allTokens {
		switch {
		case t.End <= s.Start:
			before = append(before, t)
		case t.Start >= s.End:
			after = append(after, t)
		}
	}
	if len(before) > w {
		before = before[len(before)-w:]
	}
	if len(after) > w {
		after = after[:w]
	}
	window := make([]span.Token, 0, len(before)+len(after))
	window = append(window, before...)
	window = append(window, after...)
	return window
}
