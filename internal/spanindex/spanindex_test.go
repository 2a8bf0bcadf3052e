package spanindex

import (
	"testing"

	"github.com/clinacta/phi-deidentifier/internal/span"
)

func mk(start, end int, t span.Type) span.Span {
	return span.Span{Start: start, End: end, FilterType: t, Text: "x"}
}

func TestIndex_OverlappingFindsIntersectingSpans(t *testing.T) {
	idx := New()
	idx.Insert(mk(0, 5, span.Name))
	idx.Insert(mk(10, 20, span.Date))
	idx.Insert(mk(18, 25, span.SSN))

	got := idx.Overlapping(12, 19)
	if len(got) != 2 {
		t.Fatalf("expected 2 overlapping spans, got %d: %+v", len(got), got)
	}
}

func TestIndex_OverlappingExcludesAdjacentDisjointSpans(t *testing.T) {
	idx := New()
	idx.Insert(mk(0, 5, span.Name))
	idx.Insert(mk(5, 10, span.Date))

	// [0,5) and [5,10) share no rune position (half-open ranges).
	got := idx.Overlapping(5, 10)
	if len(got) != 1 || got[0].Start != 5 {
		t.Fatalf("expected only the [5,10) span, got %+v", got)
	}
}

func TestIndex_OverlappingReturnsNoneWhenDisjoint(t *testing.T) {
	idx := New()
	idx.Insert(mk(0, 5, span.Name))
	idx.Insert(mk(100, 105, span.Date))

	got := idx.Overlapping(50, 60)
	if len(got) != 0 {
		t.Fatalf("expected no overlaps, got %+v", got)
	}
}

func TestIndex_ContainmentViaSpanMethodsOnOverlapResult(t *testing.T) {
	idx := New()
	outer := mk(0, 20, span.Address)
	idx.Insert(outer)
	idx.Insert(mk(5, 10, span.City))

	inner := mk(5, 10, span.City)
	candidates := idx.OverlappingSpan(inner)
	foundOuter := false
	for _, c := range candidates {
		if c.Contains(inner) && c.Start == 0 {
			foundOuter = true
		}
	}
	if !foundOuter {
		t.Error("expected the outer span to be found as a containing overlap candidate")
	}
}

func TestIndex_AllReturnsAscendingOrder(t *testing.T) {
	idx := New()
	idx.Insert(mk(50, 60, span.Date))
	idx.Insert(mk(0, 5, span.Name))
	idx.Insert(mk(20, 30, span.SSN))

	all := idx.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Start > all[i].Start {
			t.Errorf("spans not in ascending start order: %+v", all)
		}
	}
}

func TestIndex_LenTracksInsertions(t *testing.T) {
	idx := New()
	for i := 0; i < 10; i++ {
		idx.Insert(mk(i*10, i*10+5, span.Name))
	}
	if idx.Len() != 10 {
		t.Errorf("expected Len()=10, got %d", idx.Len())
	}
}

func TestGroupIdentical_GroupsSharedRanges(t *testing.T) {
	spans := []span.Span{
		mk(0, 5, span.Name),
		mk(0, 5, span.ProviderName),
		mk(10, 15, span.Date),
	}
	groups := GroupIdentical(spans)
	if len(groups[[2]int{0, 5}]) != 2 {
		t.Errorf("expected 2 spans grouped at [0,5), got %d", len(groups[[2]int{0, 5}]))
	}
	if len(groups[[2]int{10, 15}]) != 1 {
		t.Errorf("expected 1 span grouped at [10,15), got %d", len(groups[[2]int{10, 15}]))
	}
}

func TestIndex_IdenticalAt(t *testing.T) {
	idx := New()
	idx.Insert(mk(0, 5, span.Name))
	idx.Insert(mk(0, 5, span.ProviderName))
	idx.Insert(mk(0, 6, span.Address))

	got := idx.IdenticalAt(0, 5)
	if len(got) != 2 {
		t.Fatalf("expected 2 identical-range spans, got %d: %+v", len(got), got)
	}
}

func TestIndex_LargeInputStaysCorrect(t *testing.T) {
	idx := New()
	for i := 0; i < 500; i++ {
		idx.Insert(mk(i*3, i*3+2, span.Name))
	}
	// span at i=100 covers [300,302); query a narrow overlapping range.
	got := idx.Overlapping(300, 301)
	if len(got) != 1 || got[0].Start != 300 {
		t.Fatalf("expected exactly the [300,302) span, got %+v", got)
	}
}
