// Package resolver implements the Overlap Resolver (C5): given the raw span
// set a whitelist pass has already flagged, it keeps the highest
// composite-score span at each contested position and discards the rest,
// using spanindex (C4) to find what a candidate span overlaps (spec.md
// §4.4).
package resolver

import (
	"math"
	"sort"

	"github.com/clinacta/phi-deidentifier/internal/span"
	"github.com/clinacta/phi-deidentifier/internal/spanindex"
)

// Resolve drops overlapping spans by composite score and containment rules,
// returning the surviving spans sorted by Start. Ignored spans (the
// whitelist's verdict) are passed through untouched at the front of the
// pipeline: they never enter the interval tree and never compete for a
// position, so a later pass can still see they were considered.
//
// Spans sharing an identical [start, end) range are collapsed to one
// representative before the overlap sweep runs, since identical ranges
// aren't a containment dispute between two different positions, they're the
// same position claimed by more than one filter. Same-type duplicates are
// silently deduped; duplicates that disagree on FilterType are left for the
// vector disambiguator (C6) to pick a winner from, recorded on the
// representative's AmbiguousWith (spec.md §4.5).
func Resolve(spans []span.Span) []span.Span {
	var active []span.Span
	var ignored []span.Span
	for _, s := range spans {
		if s.Ignored {
			ignored = append(ignored, s)
			continue
		}
		active = append(active, s)
	}

	collapsed := collapseIdentical(active)
	ordered := rankByCompositeScore(collapsed)

	idx := spanindex.New()
	var kept []span.Span

	for _, s := range ordered {
		overlaps := idx.OverlappingSpan(s)
		if len(overlaps) == 0 {
			idx.Insert(s)
			kept = append(kept, s)
			continue
		}

		drop := false
		var supersede []span.Span
		for _, e := range overlaps {
			switch {
			case s.Contains(e) && moreSpecific(e, s) && e.Confidence >= 0.9:
				// S contains E, E is more specific and confident: drop S.
				drop = true
			case e.Contains(s) && moreSpecific(s, e) && s.Confidence >= 0.9:
				// E contains S, S is more specific and confident: drop E, keep S.
				supersede = append(supersede, e)
			default:
				// Any other overlap: S is already lower-score by sort order.
				drop = true
			}
			if drop {
				break
			}
		}
		if drop {
			continue
		}

		if len(supersede) > 0 {
			kept = removeAll(kept, supersede)
			idx = spanindex.New()
			for _, k := range kept {
				idx.Insert(k)
			}
		}
		idx.Insert(s)
		kept = append(kept, s)
	}

	result := append(kept, ignored...)
	sort.Stable(span.ByStart(result))
	return result
}

// collapseIdentical groups spans by exact (start, end) range, in order of
// each range's first appearance so the result stays a deterministic function
// of the input order (spec.md's P4). Groups of one pass through unchanged.
func collapseIdentical(spans []span.Span) []span.Span {
	type rng struct{ start, end int }
	firstSeen := make(map[rng]int)
	var groups [][]span.Span
	for _, s := range spans {
		k := rng{s.Start, s.End}
		if i, ok := firstSeen[k]; ok {
			groups[i] = append(groups[i], s)
			continue
		}
		firstSeen[k] = len(groups)
		groups = append(groups, []span.Span{s})
	}

	out := make([]span.Span, 0, len(spans))
	for _, g := range groups {
		if len(g) == 1 {
			out = append(out, g[0])
			continue
		}
		rep := pickRepresentative(g)
		if !sameType(g) {
			rep.AmbiguousWith = make([]span.Alternative, len(g))
			for i, s := range g {
				rep.AmbiguousWith[i] = span.Alternative{
					FilterType: s.FilterType,
					Confidence: s.Confidence,
					Priority:   s.Priority,
				}
			}
		}
		out = append(out, rep)
	}
	return out
}

func sameType(group []span.Span) bool {
	for _, s := range group[1:] {
		if s.FilterType != group[0].FilterType {
			return false
		}
	}
	return true
}

// pickRepresentative returns the group member with the highest composite
// score, keeping the first-seen member on a tie so the choice doesn't depend
// on map iteration or sort stability elsewhere.
func pickRepresentative(group []span.Span) span.Span {
	best := group[0]
	bestScore := compositeScore(best)
	for _, s := range group[1:] {
		if score := compositeScore(s); score > bestScore {
			best, bestScore = s, score
		}
	}
	return best
}

// moreSpecific reports whether a's filter type outranks b's on the
// compile-time specificity table (spec.md §4.2/§4.4).
func moreSpecific(a, b span.Span) bool {
	return span.TypeSpecificity[a.FilterType] > span.TypeSpecificity[b.FilterType]
}

func removeAll(kept []span.Span, drop []span.Span) []span.Span {
	dead := make(map[int]bool, len(drop))
	for _, d := range drop {
		dead[identity(d)] = true
	}
	out := kept[:0:0]
	for _, k := range kept {
		if !dead[identity(k)] {
			out = append(out, k)
		}
	}
	return out
}

// identity gives a cheap, good-enough key for matching a kept span back to
// the overlap candidate spanindex returned (spans aren't comparable with ==
// because Span carries slice fields, and two spans never share a (start,
// end, filterType, pattern) tuple within one resolution pass).
func identity(s span.Span) int {
	h := s.Start*1000003 + s.End
	for _, r := range string(s.FilterType) {
		h = h*1000003 + int(r)
	}
	for _, r := range s.Pattern {
		h = h*1000003 + int(r)
	}
	return h
}

// rankByCompositeScore sorts spans by descending composite score, breaking
// ties by earlier start, then longer length, then stable original order
// (spec.md §4.4).
func rankByCompositeScore(spans []span.Span) []span.Span {
	type scored struct {
		s     span.Span
		score float64
	}
	ranked := make([]scored, len(spans))
	for i, s := range spans {
		ranked[i] = scored{s: s, score: compositeScore(s)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if ranked[i].s.Start != ranked[j].s.Start {
			return ranked[i].s.Start < ranked[j].s.Start
		}
		if ranked[i].s.Len() != ranked[j].s.Len() {
			return ranked[i].s.Len() > ranked[j].s.Len()
		}
		return false
	})
	out := make([]span.Span, len(ranked))
	for i, r := range ranked {
		out[i] = r.s
	}
	return out
}

// compositeScore implements spec.md §4.4's weighted formula:
//
//	0.4·min(length/50,1)·100 + 0.3·confidence·100 +
//	0.2·(typeSpecificity/100)·100 + 0.1·min(priority/100,1)·100
func compositeScore(s span.Span) float64 {
	lengthScore := math.Min(float64(s.Len())/50, 1) * 100
	confidenceScore := s.Confidence * 100
	specificity := float64(span.TypeSpecificity[s.FilterType])
	priorityScore := math.Min(float64(s.Priority)/100, 1) * 100
	return 0.4*lengthScore + 0.3*confidenceScore + 0.2*specificity + 0.1*priorityScore
}
