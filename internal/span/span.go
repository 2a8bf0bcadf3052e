// Package span defines the Span record shared by every stage of the
// detection pipeline: filters produce spans, the whitelist and resolver
// mutate their ignored/applied flags, the disambiguator rewrites filterType
// on ties, and the token manager stamps replacement/salt before redaction.
package span

import "fmt"

// Type is a PHI category tag drawn from the closed Safe Harbor enumeration.
type Type string

// The closed filter-type enumeration. Additions are backward compatible;
// removals and renames are breaking (spec §6).
const (
	Name         Type = "NAME"
	ProviderName Type = "PROVIDER_NAME"
	Email        Type = "EMAIL"
	SSN          Type = "SSN"
	Phone        Type = "PHONE"
	Fax          Type = "FAX"
	Address      Type = "ADDRESS"
	Zipcode      Type = "ZIPCODE"
	City         Type = "CITY"
	State        Type = "STATE"
	County       Type = "COUNTY"
	Date         Type = "DATE"
	RelativeDate Type = "RELATIVE_DATE"
	Age          Type = "AGE"
	CreditCard   Type = "CREDIT_CARD"
	Account      Type = "ACCOUNT"
	Bitcoin      Type = "BITCOIN"
	IBAN         Type = "IBAN"
	MRN          Type = "MRN"
	HealthPlan   Type = "HEALTH_PLAN"
	Device       Type = "DEVICE"
	License      Type = "LICENSE"
	Passport     Type = "PASSPORT"
	IP           Type = "IP"
	URL          Type = "URL"
	MACAddress   Type = "MAC_ADDRESS"
	Biometric    Type = "BIOMETRIC"
	Vehicle      Type = "VEHICLE"
	Occupation   Type = "OCCUPATION"
	Custom       Type = "CUSTOM"
)

// TypeSpecificity is the compile-time constant used by the overlap resolver
// to break ties between structured and fuzzy categories (spec §4.2, §4.4).
// Highly structured types score >=80; fuzzy categories score 30-50.
var TypeSpecificity = map[Type]int{
	SSN:          95,
	CreditCard:   90,
	IBAN:         90,
	MRN:          85,
	NPIPseudoType: 85,
	DEAPseudoType: 85,
	Bitcoin:      85,
	Email:        85,
	MACAddress:   85,
	IP:           80,
	URL:          80,
	Device:       75,
	License:      70,
	Passport:     70,
	Vehicle:      70,
	Account:      65,
	HealthPlan:   65,
	Phone:        55,
	Fax:          55,
	Date:         55,
	RelativeDate: 45,
	Age:          50,
	Zipcode:      45,
	ProviderName: 45,
	Name:         40,
	Address:      40,
	City:         35,
	County:       35,
	State:        35,
	Occupation:   30,
	Biometric:    60,
	Custom:       30,
}

// NPIPseudoType and DEAPseudoType have TypeSpecificity entries but are not
// part of the public enumeration and are never assigned to a span: the
// combined provider-identifier filter (filters.NewProviderIDFilter) reports
// NPI and DEA matches with FilterType MRN.
const (
	NPIPseudoType Type = "npi_internal"
	DEAPseudoType Type = "dea_internal"
)

// Priority constants: filter-level compile-time priority (spec §4.2: "SSN=100, NAME=40").
var Priority = map[Type]int{
	SSN:          100,
	CreditCard:   95,
	IBAN:         95,
	MRN:          90,
	Bitcoin:      90,
	Email:        85,
	MACAddress:   85,
	IP:           80,
	URL:          75,
	Device:       70,
	License:      65,
	Passport:     65,
	Vehicle:      65,
	Account:      60,
	HealthPlan:   60,
	Phone:        55,
	Fax:          55,
	Date:         55,
	RelativeDate: 45,
	Age:          50,
	Zipcode:      40,
	ProviderName: 45,
	Name:         40,
	Address:      40,
	City:         35,
	County:       35,
	State:        35,
	Occupation:   30,
	Biometric:    60,
	Custom:       30,
}

// Token holds a single context token in a span's surrounding window.
type Token struct {
	Text  string
	Start int // rune offset into the source text
	End   int
}

// Span is the central detection record (spec §3).
type Span struct {
	Start int // half-open, rune offset
	End   int

	Text       string
	FilterType Type
	Confidence float64
	Priority   int

	// Window holds up to 2*W tokens surrounding the match, ordered left to right.
	Window []Token

	// Pattern identifies the rule or dictionary entry that fired.
	Pattern string

	Applied bool
	Ignored bool

	// AmbiguousWith holds alternative (Type, Confidence) interpretations for
	// spans that share the exact same [Start, End) as one or more siblings.
	AmbiguousWith []Alternative

	// Replacement, when a filter sets it (the age filter's Safe-Harbor ">=90"
	// collapse), overrides Text as what a restored token maps back to. Salt
	// is populated by the date filter's shift offset and consumed by C8.
	Replacement string
	Salt        string
}

// Alternative is one candidate interpretation considered by the vector
// disambiguator for a position where multiple filters fired identically.
type Alternative struct {
	FilterType Type
	Confidence float64
	Priority   int
}

// Len returns the span's length in runes.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether s and other share at least one rune position.
func (s Span) Overlaps(other Span) bool {
	return s.Start < other.End && other.Start < s.End
}

// Contains reports whether s fully contains other ([other.Start, other.End)
// is a (possibly equal) subset of [s.Start, s.End)).
func (s Span) Contains(other Span) bool {
	return s.Start <= other.Start && other.End <= s.End
}

func (s Span) String() string {
	return fmt.Sprintf("%s[%d:%d]=%q(conf=%.2f)", s.FilterType, s.Start, s.End, s.Text, s.Confidence)
}

// ByStart sorts spans ascending by Start, then by descending length, matching
// the resolver's tie-break order (spec §4.4).
type ByStart []Span

func (b ByStart) Len() int      { return len(b) }
func (b ByStart) Swap(i, j int) { b[i], b[j] = b[j], b[i] }
func (b ByStart) Less(i, j int) bool {
	if b[i].Start != b[j].Start {
		return b[i].Start < b[j].Start
	}
	return b[i].Len() > b[j].Len()
}
