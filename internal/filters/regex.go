package filters

import (
	"regexp"

	"github.com/clinacta/phi-deidentifier/internal/span"
)

// postCheck validates a raw regex match beyond what the pattern itself can
// express (checksum, population guard, format whitelist). Returning false
// discards the candidate entirely.
type postCheck func(match string) bool

// regexFilter runs one or more anchored patterns over the text and turns
// surviving matches into spans of a single filterType. Grounded on the
// teacher's compilePatterns/pattern pairing (internal/anonymizer/anonymizer.go),
// generalized from a flat pattern list to per-category filters with an
// optional structural post-check.
type regexFilter struct {
	filterType  span.Type
	pattern     string // rule/dictionary identifier stamped on the span
	confidence  float64
	priority    int
	res         []*regexp.Regexp
	check       postCheck
}

func newRegexFilter(t span.Type, patternName string, confidence float64, check postCheck, exprs ...string) *regexFilter {
	f := &regexFilter{
		filterType: t,
		pattern:    patternName,
		confidence: confidence,
		priority:   span.Priority[t],
		check:      check,
	}
	for _, e := range exprs {
		f.res = append(f.res, regexp.MustCompile(e))
	}
	return f
}

func (f *regexFilter) Type() span.Type { return f.filterType }

func (f *regexFilter) Detect(in Input) []span.Span {
	var out []span.Span
	for _, re := range f.res {
		for _, loc := range re.FindAllStringIndex(in.Text, -1) {
			match := in.Text[loc[0]:loc[1]]
			if f.check != nil && !f.check(match) {
				continue
			}
			start, end := byteRangeToRuneRange(in.Text, loc[0], loc[1])
			out = append(out, span.Span{
				Start:      start,
				End:        end,
				Text:       match,
				FilterType: f.filterType,
				Confidence: f.confidence,
				Priority:   f.priority,
				Pattern:    f.pattern,
			})
		}
	}
	return sortSpans(dropOverlapping(out))
}

// byteRangeToRuneRange converts a [start,end) byte offset pair (as returned
// by regexp's FindAllStringIndex) into rune offsets, the position unit
// shared by every component (spec.md §3).
func byteRangeToRuneRange(text string, byteStart, byteEnd int) (int, int) {
	runeStart, runeEnd, seen := -1, -1, 0
	for i := range text {
		if i == byteStart {
			runeStart = seen
		}
		if i == byteEnd {
			runeEnd = seen
		}
		seen++
	}
	if runeStart == -1 {
		runeStart = seen
	}
	if byteEnd == len(text) {
		runeEnd = seen
	} else if runeEnd == -1 {
		runeEnd = seen
	}
	return runeStart, runeEnd
}
