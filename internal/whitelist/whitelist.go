// Package whitelist implements the Field-Label Whitelist (C3): spans that
// match a known form label, section heading, or non-PHI vocabulary term are
// marked ignored rather than dropped, so the resolver (C4/C5) can still see
// them for overlap bookkeeping while the token manager (C8) skips them.
package whitelist

import (
	"strings"

	"github.com/clinacta/phi-deidentifier/internal/dictionary"
	"github.com/clinacta/phi-deidentifier/internal/span"
)

// exemptTypes lists the pattern-matched identifier filters whose format
// already implies PHI (spec.md §4.3): their spans skip the whole-word
// structure-word check, but still clear the exact-phrase/vocabulary check
// above it (a span literally equal to "Patient Name:" is still a label,
// whatever filter produced it).
var exemptTypes = map[span.Type]struct{}{
	span.SSN:        {},
	span.CreditCard: {},
	span.MRN:        {},
	span.Vehicle:    {},
	span.Device:     {},
	span.IP:         {},
	span.URL:        {},
	span.MACAddress: {},
	span.IBAN:       {},
	span.Phone:      {},
	span.Email:      {},
}

// Whitelist decides whether a detected span is actually non-PHI structure.
type Whitelist struct {
	dict *dictionary.Store
}

// New builds a Whitelist backed by dict. A nil dict makes every span pass
// (never ignores anything) rather than panicking.
func New(dict *dictionary.Store) *Whitelist {
	return &Whitelist{dict: dict}
}

// Apply marks Ignored=true in place on every span the whitelist rejects and
// returns the same slice (spec.md §4.3 runs after all filters, before
// C4/C5).
func (w *Whitelist) Apply(spans []span.Span) []span.Span {
	for i := range spans {
		if w.shouldIgnore(spans[i]) {
			spans[i].Ignored = true
		}
	}
	return spans
}

// shouldIgnore applies the three checks of spec.md §4.3 in order: (i) exact
// phrase / non-PHI vocabulary match against the full span text, (ii) for
// non-exempt filter types, a whole-word structure check requiring every
// individual word of the span to independently resolve to non-PHI
// vocabulary. Because dictionary.Store.ClassifyAsNonPHI matches by exact
// normalized-phrase equality rather than substring, "PHI" can never match
// inside "PHILIP" — the whole-word guarantee falls out of the lookup being
// exact rather than needing separate boundary logic.
func (w *Whitelist) shouldIgnore(s span.Span) bool {
	if w.dict == nil {
		return false
	}
	if _, ok := w.dict.ClassifyAsNonPHI(s.Text); ok {
		return true
	}
	if _, exempt := exemptTypes[s.FilterType]; exempt {
		return false
	}
	words := strings.Fields(s.Text)
	if len(words) == 0 {
		return false
	}
	for _, word := range words {
		if _, ok := w.dict.ClassifyAsNonPHI(word); !ok {
			return false
		}
	}
	return true
}
