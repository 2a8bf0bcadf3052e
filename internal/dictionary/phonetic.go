package dictionary

// defaultSimilarityFloor is the default phonetic match floor (spec.md §4.1).
const defaultSimilarityFloor = 0.8

// Match type constants report which of the candidate's two codes matched.
const (
	MatchPrimary   = "primary"
	MatchSecondary = "secondary"
)

// scorePrimaryPrimary and scorePrimarySecondary are the confidence values
// assigned per match type: an exact primary-code match is the strongest
// signal; a match on the token's secondary (alternate-pronunciation) code
// is weaker but still above the default 0.8 floor.
const (
	scorePrimaryPrimary   = 1.0
	scorePrimarySecondary = 0.88
)

// PhoneticMatch is the result of a phonetic lookup.
type PhoneticMatch struct {
	Canonical string
	Score     float64
	MatchType string
}

// PhoneticIndex maps Double Metaphone codes to the canonical dictionary
// terms that produced them, built once at Store load time.
type PhoneticIndex struct {
	byCode map[string][]string // code -> canonical terms (normalized)
}

// NewPhoneticIndex builds an index over terms, keyed by both the primary and
// (when present) secondary Double Metaphone code of each term.
func NewPhoneticIndex(terms []string) *PhoneticIndex {
	idx := &PhoneticIndex{byCode: make(map[string][]string)}
	for _, term := range terms {
		p, s := doubleMetaphone(term)
		if p != "" {
			idx.byCode[p] = append(idx.byCode[p], term)
		}
		if s != "" && s != p {
			idx.byCode[s] = append(idx.byCode[s], term)
		}
	}
	return idx
}

// Lookup returns the best phonetic match for token, or ok=false if nothing
// in the index meets floor. When several canonical terms share the winning
// code, the first indexed is returned (stable for identical dictionaries).
func (idx *PhoneticIndex) Lookup(token string, floor float64) (PhoneticMatch, bool) {
	key := normalizeKey(token)
	p, s := doubleMetaphone(key)
	if p == "" && s == "" {
		return PhoneticMatch{}, false
	}

	best := PhoneticMatch{}
	found := false

	consider := func(code string, matchType string, score float64) {
		candidates, ok := idx.byCode[code]
		if !ok || len(candidates) == 0 {
			return
		}
		if !found || score > best.Score {
			best = PhoneticMatch{Canonical: candidates[0], Score: score, MatchType: matchType}
			found = true
		}
	}

	if p != "" {
		consider(p, MatchPrimary, scorePrimaryPrimary)
	}
	if s != "" {
		consider(s, MatchSecondary, scorePrimarySecondary)
	}

	if !found || best.Score < floor {
		return PhoneticMatch{}, false
	}
	return best, true
}
