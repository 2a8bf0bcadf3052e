package filters

import (
	"regexp"
	"strings"

	"github.com/clinacta/phi-deidentifier/internal/span"
)

// Capitalized-word run regexes for the first two of spec.md §4.2's three
// NAME sub-scanners ("Last-comma-First; First-Last and First-Middle-Last").
// The third — "a smart scanner that consults the dictionary and the
// phonetic index" directly — is singleCapWordRe below, which can flag a
// solo dictionary-known token the two multi-word regexes never reach.
var (
	nameCommaFirstRe = regexp.MustCompile(`\b([A-Z][a-zA-Z'-]+),\s+([A-Z][a-zA-Z'-]+)\b`)
	nameFirstLastRe  = regexp.MustCompile(`\b([A-Z][a-zA-Z'-]+)\s+(?:([A-Z][a-zA-Z'-]+)\s+)?([A-Z][a-zA-Z'-]+)\b`)
	singleCapWordRe  = regexp.MustCompile(`\b[A-Z][a-zA-Z'-]+\b`)
)

// providerContextPhrases introduce a clinician's name. Checked as whole
// words/two-word phrases immediately adjacent to a candidate, never as a
// substring (see hasProviderContext).
var providerContextPhrases = map[string]bool{
	"admitted by": true, "attending": true, "physician": true,
	"provider": true, "seen by": true, "dr": true, "doctor": true,
}

// nameTitles are capitalized words that introduce a name but are never a
// name themselves, so the single-token scanner doesn't flag "Dr" in
// "Dr. Jordan" as a candidate in its own right.
var nameTitles = map[string]bool{
	"dr": true, "mr": true, "mrs": true, "ms": true, "prof": true, "sr": true, "jr": true,
}

// nameFilter implements the NAME and PROVIDER_NAME dictionary+context
// detector family (spec.md §4.2). providerOnly restricts matches to
// candidates immediately preceded by a provider-context phrase.
type nameFilter struct {
	providerOnly bool
}

// NewNameFilter detects patient/person names.
func NewNameFilter() Filter { return &nameFilter{providerOnly: false} }

// NewProviderNameFilter detects clinician names introduced by a provider context phrase.
func NewProviderNameFilter() Filter { return &nameFilter{providerOnly: true} }

func (f *nameFilter) Type() span.Type {
	if f.providerOnly {
		return span.ProviderName
	}
	return span.Name
}

func (f *nameFilter) Detect(in Input) []span.Span {
	t := f.Type()
	var candidates []span.Span

	for _, loc := range nameCommaFirstRe.FindAllStringSubmatchIndex(in.Text, -1) {
		candidates = append(candidates, f.scoreCandidate(in, t, loc[0], loc[1], "name_comma_first"))
	}
	for _, loc := range nameFirstLastRe.FindAllStringSubmatchIndex(in.Text, -1) {
		candidates = append(candidates, f.scoreCandidate(in, t, loc[0], loc[1], "name_first_last"))
	}
	candidates = append(candidates, f.scoreSingleTokenCandidates(in, t)...)

	var kept []span.Span
	for _, c := range candidates {
		if c.Confidence <= 0 {
			continue
		}
		providerContext := hasProviderContext(in.Text, c.Start)
		if f.providerOnly && !providerContext {
			continue
		}
		if !f.providerOnly && providerContext {
			// Already claimed by the provider scanner; avoid double emission.
			continue
		}
		if in.Dict.IsNeverName(c.Text) {
			continue
		}
		if _, ok := in.Dict.ClassifyAsNonPHI(c.Text); ok {
			continue
		}
		kept = append(kept, c)
	}
	return sortSpans(dropOverlapping(kept))
}

// scoreSingleTokenCandidates implements spec.md §4.2's third NAME
// sub-scanner: it consults the dictionary and phonetic index directly
// against every solo capitalized word, rather than requiring the
// two-or-more-word shape the other two scanners need. A bare capitalized
// word is weak evidence on its own — accepted only when a provider-context
// phrase sits immediately before it (e.g. "Dr. Jordan") or when the word
// isn't merely capitalized because it opens a sentence.
func (f *nameFilter) scoreSingleTokenCandidates(in Input, t span.Type) []span.Span {
	var out []span.Span
	for _, loc := range singleCapWordRe.FindAllStringIndex(in.Text, -1) {
		word := in.Text[loc[0]:loc[1]]
		if nameTitles[strings.ToLower(word)] {
			continue
		}

		dictHit := in.Dict.IsFirstName(word) || in.Dict.IsSurname(word)
		phoneticScore := 0.0
		if !dictHit {
			if m, ok := in.Dict.PhoneticMatch(word, 0); ok {
				dictHit = true
				phoneticScore = m.Score
			}
		}
		if !dictHit {
			continue
		}

		start, end := byteRangeToRuneRange(in.Text, loc[0], loc[1])
		if !hasProviderContext(in.Text, start) && isSentenceInitial(in.Text, start) {
			// Capitalized only because it opens a sentence, with no provider
			// phrase backing it up: not enough evidence alone.
			continue
		}

		score := 0.35
		switch {
		case in.Dict.IsFirstName(word) || in.Dict.IsSurname(word):
			score = 0.65
		default:
			score += 0.12 * phoneticScore
		}

		out = append(out, span.Span{
			Start: start, End: end, Text: word, FilterType: t,
			Confidence: score, Priority: span.Priority[t], Pattern: "name_single_token",
		})
	}
	return out
}

// scoreCandidate scores a raw regex match by dictionary hit strength and
// phonetic confidence (spec.md §4.2's "length, dictionary hit strength,
// phonetic confidence, and surrounding context").
func (f *nameFilter) scoreCandidate(in Input, t span.Type, byteStart, byteEnd int, pattern string) span.Span {
	match := in.Text[byteStart:byteEnd]
	words := strings.FieldsFunc(match, func(r rune) bool { return r == ',' || r == ' ' })

	score := 0.3 // base: capitalized-word-run shape alone is weak evidence
	for _, w := range words {
		switch {
		case in.Dict.IsFirstName(w) || in.Dict.IsSurname(w):
			score += 0.25
		default:
			if m, ok := in.Dict.PhoneticMatch(w, 0); ok {
				score += 0.12 * m.Score
			}
		}
	}
	if score > 1 {
		score = 1
	}

	start, end := byteRangeToRuneRange(in.Text, byteStart, byteEnd)
	return span.Span{
		Start: start, End: end, Text: match, FilterType: t,
		Confidence: score, Priority: span.Priority[t], Pattern: pattern,
	}
}

// hasProviderContext reports whether a provider-context phrase sits
// immediately before the rune position start — the one or two whitespace-
// separated words directly adjacent to it, not an arbitrary fixed-width
// window. A flat character lookback bleeds across intervening words and
// clause boundaries (e.g. "Dr. Jordan examined Jordan Lake" would otherwise
// let "Dr." reach all the way to the second, unrelated "Jordan Lake").
func hasProviderContext(text string, start int) bool {
	runes := []rune(text)
	if start > len(runes) {
		start = len(runes)
	}
	before := strings.TrimRight(string(runes[:start]), " \t\r\n")
	words := strings.Fields(before)
	if len(words) == 0 {
		return false
	}

	last := normalizeWord(words[len(words)-1])
	if providerContextPhrases[last] {
		return true
	}
	if len(words) >= 2 {
		pair := normalizeWord(words[len(words)-2]) + " " + last
		if providerContextPhrases[pair] {
			return true
		}
	}
	return false
}

// normalizeWord lowercases a token and trims the punctuation a sentence or
// clause boundary leaves attached to it ("Dr." -> "dr").
func normalizeWord(w string) string {
	return strings.ToLower(strings.Trim(w, ".,;:()\"'"))
}

// isSentenceInitial reports whether the token starting at the rune position
// start is the first word of a sentence — preceded only by whitespace, or
// by whitespace straight after a sentence-ending mark. Such a token's
// capitalization is conventional, not evidence it's a name.
func isSentenceInitial(text string, start int) bool {
	runes := []rune(text)
	i := start - 1
	for i >= 0 && (runes[i] == ' ' || runes[i] == '\t' || runes[i] == '\n' || runes[i] == '\r') {
		i--
	}
	if i < 0 {
		return true
	}
	switch runes[i] {
	case '.', '!', '?':
		return true
	default:
		return false
	}
}
