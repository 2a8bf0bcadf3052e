package filters

import (
	"regexp"
	"sort"
	"strings"

	"github.com/clinacta/phi-deidentifier/internal/span"
)

var streetSuffixes = `Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way|Place|Pl|Circle|Cir|Terrace|Ter`

var addressRe = regexp.MustCompile(`(?i)\b\d+\s+[A-Za-z0-9\s]+(?:` + streetSuffixes + `)\b\.?`)

// NewAddressFilter detects street-address fragments anchored by a street
// suffix keyword (grounded on the teacher's "(?i)\d+\s+[A-Za-z\s]+(?:Street|...)"
// pattern in internal/anonymizer/anonymizer.go, generalized with more suffixes).
func NewAddressFilter() Filter {
	return newRegexFilter(span.Address, "address_street", 0.75, nil, addressRe.String())
}

// usStates lists the 50 states plus DC by full name and postal abbreviation.
// Kept inline (not in the dictionary store) because it is a fixed,
// exhaustive, compile-time table rather than an optional corpus file.
var usStates = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR", "california": "CA",
	"colorado": "CO", "connecticut": "CT", "delaware": "DE", "florida": "FL", "georgia": "GA",
	"hawaii": "HI", "idaho": "ID", "illinois": "IL", "indiana": "IN", "iowa": "IA",
	"kansas": "KS", "kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS", "missouri": "MO",
	"montana": "MT", "nebraska": "NE", "nevada": "NV", "new hampshire": "NH", "new jersey": "NJ",
	"new mexico": "NM", "new york": "NY", "north carolina": "NC", "north dakota": "ND", "ohio": "OH",
	"oklahoma": "OK", "oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT", "vermont": "VT",
	"virginia": "VA", "washington": "WA", "west virginia": "WV", "wisconsin": "WI", "wyoming": "WY",
	"district of columbia": "DC",
}

var stateAbbrevSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(usStates))
	for _, abbr := range usStates {
		set[strings.ToLower(abbr)] = struct{}{}
	}
	return set
}()

// stateWordRe matches a full state name (longest names first, so "West
// Virginia" wins over "Virginia") or any two-letter word, case-insensitively.
var stateWordRe = func() *regexp.Regexp {
	names := make([]string, 0, len(usStates))
	for name := range usStates {
		names = append(names, regexp.QuoteMeta(name))
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(names, "|") + `|[a-z]{2})\b`)
}()

// NewStateFilter detects US state names and postal abbreviations.
func NewStateFilter() Filter { return &stateFilter{} }

type stateFilter struct{}

func (f *stateFilter) Type() span.Type { return span.State }

func (f *stateFilter) Detect(in Input) []span.Span {
	var out []span.Span
	for _, loc := range stateWordRe.FindAllStringIndex(in.Text, -1) {
		match := in.Text[loc[0]:loc[1]]
		lower := strings.ToLower(match)
		_, isName := usStates[lower]
		_, isAbbrev := stateAbbrevSet[lower]
		if !isName && !(isAbbrev && match == strings.ToUpper(match) && len(match) == 2) {
			continue
		}
		start, end := byteRangeToRuneRange(in.Text, loc[0], loc[1])
		out = append(out, span.Span{
			Start: start, End: end, Text: match, FilterType: span.State,
			Confidence: 0.55, Priority: span.Priority[span.State], Pattern: "state_name",
		})
	}
	return sortSpans(dropOverlapping(out))
}

// NewCityFilter detects city names via the dictionary's geographic
// vocabulary and a "City, ST" shape (a city name followed by a comma and a
// recognized state abbreviation is strong evidence either side is geography).
func NewCityFilter() Filter { return &cityFilter{} }

type cityFilter struct{}

var cityStateRe = regexp.MustCompile(`\b([A-Z][a-zA-Z\s]{1,25}),\s([A-Z]{2})\b`)

func (f *cityFilter) Type() span.Type { return span.City }

func (f *cityFilter) Detect(in Input) []span.Span {
	var out []span.Span
	for _, loc := range cityStateRe.FindAllStringSubmatchIndex(in.Text, -1) {
		stateAbbrev := strings.ToLower(in.Text[loc[4]:loc[5]])
		if _, ok := stateAbbrevSet[stateAbbrev]; !ok {
			continue
		}
		cityText := in.Text[loc[2]:loc[3]]
		start, end := byteRangeToRuneRange(in.Text, loc[2], loc[3])
		out = append(out, span.Span{
			Start: start, End: end, Text: cityText, FilterType: span.City,
			Confidence: 0.7, Priority: span.Priority[span.City], Pattern: "city_comma_state",
		})
	}
	return sortSpans(dropOverlapping(out))
}

// NewCountyFilter detects "<Name> County" phrases.
func NewCountyFilter() Filter {
	return newRegexFilter(span.County, "county_suffix", 0.6, nil,
		`\b[A-Z][a-zA-Z]+(?:\s[A-Z][a-zA-Z]+)?\sCounty\b`,
	)
}

// hospitalCandidateRe finds capitalized-word runs that end in a hospital
// institution keyword, narrowing what must be dictionary-checked.
var hospitalCandidateRe = regexp.MustCompile(`\b[A-Z][a-zA-Z'.\s]{2,40}(?:Hospital|Medical Center|Clinic|Health System|Infirmary)\b`)

// NewHospitalFilter detects hospital/institution names against the
// dictionary store's hospital corpus.
func NewHospitalFilter() Filter { return &hospitalFilter{} }

type hospitalFilter struct{}

func (f *hospitalFilter) Type() span.Type { return span.Custom }

func (f *hospitalFilter) Detect(in Input) []span.Span {
	var out []span.Span
	for _, loc := range hospitalCandidateRe.FindAllStringIndex(in.Text, -1) {
		match := in.Text[loc[0]:loc[1]]
		confidence := 0.5
		if in.Dict.IsHospital(match) {
			confidence = 0.9
		}
		start, end := byteRangeToRuneRange(in.Text, loc[0], loc[1])
		out = append(out, span.Span{
			Start: start, End: end, Text: match, FilterType: f.Type(),
			Confidence: confidence, Priority: span.Priority[span.Custom], Pattern: "hospital_name",
		})
	}
	return sortSpans(dropOverlapping(out))
}
