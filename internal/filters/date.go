package filters

import (
	"crypto/sha256"
	"encoding/binary"
	"regexp"

	"github.com/clinacta/phi-deidentifier/internal/span"
)

var (
	dateNumericRe = regexp.MustCompile(`\b\d{1,2}[/-]\d{1,2}[/-]\d{2,4}\b|\b\d{4}-\d{2}-\d{2}\b`)
	dateTextualRe = regexp.MustCompile(`(?i)\b(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\.?\s+\d{1,2},?\s+\d{4}\b`)
	dateRelativeRe = regexp.MustCompile(`(?i)\b\d+\s+(?:day|days|week|weeks|month|months|year|years)\s+(?:ago|from now|earlier|later)\b`)

	// dateBareRelativeRe catches relative-date words with no explicit count
	// ("yesterday", "last week"), which dateRelativeRe's N-unit-ago shape
	// never matches.
	dateBareRelativeRe = regexp.MustCompile(`(?i)\b(?:yesterday|today|tomorrow|(?:last|next)\s+(?:week|month|year))\b`)
)

// ocrDigitLookalikes maps common OCR substitution errors back to the digit
// they were probably meant to be (spec.md §4.2's "character substitutions
// 0↔O, 1↔l↔I, 5↔S, !→1, o→0"). Applied to a normalized copy so original
// positions and text are preserved.
var ocrDigitLookalikes = map[rune]rune{
	'O': '0', 'o': '0',
	'l': '1', 'I': '1', '!': '1',
	'S': '5', 's': '5',
}

// dateFilter detects DATE and RELATIVE_DATE spans.
type dateFilter struct{}

// NewDateFilter detects calendar dates (numeric, textual, OCR-corrupted)
// and relative date phrases.
func NewDateFilter() Filter { return &dateFilter{} }

func (f *dateFilter) Type() span.Type { return span.Date }

func (f *dateFilter) Detect(in Input) []span.Span {
	var out []span.Span

	for _, loc := range dateTextualRe.FindAllStringIndex(in.Text, -1) {
		out = append(out, f.spanFromByteRange(in, loc[0], loc[1], span.Date, "date_textual", 0.85))
	}
	for _, loc := range dateNumericRe.FindAllStringIndex(in.Text, -1) {
		out = append(out, f.spanFromByteRange(in, loc[0], loc[1], span.Date, "date_numeric", 0.75))
	}
	for _, loc := range dateRelativeRe.FindAllStringIndex(in.Text, -1) {
		out = append(out, f.spanFromByteRange(in, loc[0], loc[1], span.RelativeDate, "date_relative", 0.6))
	}
	for _, loc := range dateBareRelativeRe.FindAllStringIndex(in.Text, -1) {
		out = append(out, f.spanFromByteRange(in, loc[0], loc[1], span.RelativeDate, "date_relative_bare", 0.6))
	}

	normalized := applyOCRNormalization(in.Runes)
	for _, loc := range dateNumericRe.FindAllStringIndex(normalized, -1) {
		rs, re := byteRangeToRuneRange(normalized, loc[0], loc[1])
		out = append(out, span.Span{
			Start: rs, End: re, Text: string(in.Runes[rs:re]), FilterType: span.Date,
			Confidence: 0.55, Priority: span.Priority[span.Date], Pattern: "date_ocr_corrected",
		})
	}

	if in.Policy != nil && in.Policy.DateShift.Enabled {
		offset := ComputeShiftOffset(in.Salt, in.Policy.DateShift.MaxDays)
		for i := range out {
			out[i].Salt = shiftSaltTag(offset)
		}
	}

	return sortSpans(dropOverlapping(out))
}

func (f *dateFilter) spanFromByteRange(in Input, byteStart, byteEnd int, t span.Type, pattern string, confidence float64) span.Span {
	start, end := byteRangeToRuneRange(in.Text, byteStart, byteEnd)
	return span.Span{
		Start: start, End: end, Text: in.Text[byteStart:byteEnd], FilterType: t,
		Confidence: confidence, Priority: span.Priority[t], Pattern: pattern,
	}
}

// applyOCRNormalization returns a rune-for-rune substituted copy of runes
// (same length) with common OCR digit lookalikes folded to the digit they
// likely represent, so the numeric-date regex can match corrupted input
// while the caller still slices the *original* runes for span.Text.
func applyOCRNormalization(runes []rune) string {
	out := make([]rune, len(runes))
	for i, r := range runes {
		if d, ok := ocrDigitLookalikes[r]; ok {
			out[i] = d
		} else {
			out[i] = r
		}
	}
	return string(out)
}

// ComputeShiftOffset derives a deterministic per-session day offset in
// [-maxDays, +maxDays] from the session salt (spec.md §4.2, §4.7): the same
// salt always yields the same offset, so intervals between a patient's
// dates are preserved even though each date is individually shifted.
func ComputeShiftOffset(salt string, maxDays int) int {
	if maxDays <= 0 {
		return 0
	}
	sum := sha256.Sum256([]byte(salt))
	v := binary.BigEndian.Uint64(sum[:8])
	rangeSize := uint64(2*maxDays + 1)
	return int(v%rangeSize) - maxDays
}

// shiftSaltTag stashes the computed offset on the span's Salt field as a
// decimal string; the token manager (C8) parses it back out when minting
// the SHIFTED_DATE token so the filter and C8 agree on one offset per span
// without recomputing the hash per date.
func shiftSaltTag(offset int) string {
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	digits := []byte{byte('0' + offset/100%10), byte('0' + offset/10%10), byte('0' + offset%10)}
	return sign + string(digits)
}
