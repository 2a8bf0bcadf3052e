package filters

import (
	"regexp"
	"strconv"

	"github.com/clinacta/phi-deidentifier/internal/span"
)

var ageRe = regexp.MustCompile(`(?i)\b(\d{1,3})[\s-]?(?:years?[\s-]?old|yo|y\.?o\.?|year[\s-]?old)\b|\bage[:\s]+(\d{1,3})\b`)

// NewAgeFilter detects ages, emitting only those >=90 per Safe Harbor
// (spec.md §4.2: "Ages <=89 are not PHI; ages >=90 are emitted as AGE").
func NewAgeFilter() Filter { return &ageFilter{} }

type ageFilter struct{}

func (f *ageFilter) Type() span.Type { return span.Age }

func (f *ageFilter) Detect(in Input) []span.Span {
	var out []span.Span
	ageOver89As90Plus := in.Policy == nil || in.Policy.AgeOver89As90Plus
	for _, loc := range ageRe.FindAllStringSubmatchIndex(in.Text, -1) {
		var numText string
		var numStart, numEnd int
		if loc[2] != -1 {
			numStart, numEnd = loc[2], loc[3]
		} else {
			numStart, numEnd = loc[4], loc[5]
		}
		numText = in.Text[numStart:numEnd]
		age, err := strconv.Atoi(numText)
		if err != nil {
			continue
		}
		threshold := 90
		if !ageOver89As90Plus {
			threshold = 1 << 30 // policy opts out of the Safe Harbor collapse entirely
		}
		if age < threshold {
			continue
		}
		start, end := byteRangeToRuneRange(in.Text, loc[0], loc[1])
		out = append(out, span.Span{
			Start: start, End: end, Text: in.Text[loc[0]:loc[1]], FilterType: span.Age,
			Confidence: 0.8, Priority: span.Priority[span.Age], Pattern: "age_over_89",
			Replacement: "90+",
		})
	}
	return sortSpans(dropOverlapping(out))
}
