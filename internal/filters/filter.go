// Package filters implements the Filter Set (C2): one detector per Safe
// Harbor PHI category. Every filter is stateless and safe for concurrent
// use; the engine (C7) fans out the enabled subset against the same
// immutable input text.
package filters

import (
	"sort"

	"github.com/clinacta/phi-deidentifier/internal/dictionary"
	"github.com/clinacta/phi-deidentifier/internal/policy"
	"github.com/clinacta/phi-deidentifier/internal/span"
)

// Input is the shared, read-only context every filter receives. Runes is
// the input text decoded once into a rune slice so every filter indexes
// positions the same way (spec.md §3's "all components use the same unit").
type Input struct {
	Text   string
	Runes  []rune
	Policy *policy.Policy
	Dict   *dictionary.Store
	Salt   string // session salt, consulted by the date filter's shift offset
}

// NewInput decodes text once for every filter in a redaction request.
func NewInput(text string, pol *policy.Policy, dict *dictionary.Store, salt string) Input {
	return Input{Text: text, Runes: []rune(text), Policy: pol, Dict: dict, Salt: salt}
}

// Filter is the contract every detector implements (spec.md §4.2).
//
// Detect must return spans that stay within text bounds, sorted by Start
// and non-overlapping with each other. A filter's own panic or error is
// isolated by the caller (C7): its detections for the document are simply
// discarded, the remaining filters still run.
type Filter interface {
	// Type is the span.Type this filter emits (used for policy
	// enable/disable and minConfidence lookups).
	Type() span.Type
	// Detect scans in.Text and returns candidate spans.
	Detect(in Input) []span.Span
}

// sortSpans orders spans ascending by Start, matching span.ByStart's
// tie-break (longer match first) so a filter's own output is internally
// consistent before C4/C5 ever see it.
func sortSpans(spans []span.Span) []span.Span {
	sort.Stable(span.ByStart(spans))
	return spans
}

// dropOverlapping keeps spans in the order given and discards any span that
// overlaps one already kept — used by filters whose regex alternatives can
// themselves overlap (e.g. a looser fallback pattern racing a strict one).
func dropOverlapping(spans []span.Span) []span.Span {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].Len() > spans[j].Len()
	})
	kept := make([]span.Span, 0, len(spans))
	for _, s := range spans {
		overlaps := false
		for _, k := range kept {
			if s.Overlaps(k) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, s)
		}
	}
	return kept
}

// All returns every built-in filter, in the order C7 fans them out.
func All() []Filter {
	return []Filter{
		NewSSNFilter(),
		NewPhoneFilter(),
		NewFaxFilter(),
		NewEmailFilter(),
		NewURLFilter(),
		NewIPFilter(),
		NewMACFilter(),
		NewCreditCardFilter(),
		NewIBANFilter(),
		NewBitcoinFilter(),
		NewZipcodeFilter(),
		NewVINFilter(),
		NewMRNFilter(),
		NewProviderIDFilter(),
		NewAccountFilter(),
		NewDeviceIDFilter(),
		NewLicensePlateFilter(),
		NewPassportFilter(),
		NewHealthPlanFilter(),
		NewNameFilter(),
		NewProviderNameFilter(),
		NewAddressFilter(),
		NewCityFilter(),
		NewStateFilter(),
		NewCountyFilter(),
		NewHospitalFilter(),
		NewDateFilter(),
		NewAgeFilter(),
	}
}
