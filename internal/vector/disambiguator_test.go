package vector

import (
	"testing"

	"github.com/clinacta/phi-deidentifier/internal/span"
)

func candidateAt(filterType span.Type, priority int, window []span.Token) span.Span {
	return span.Span{Start: 10, End: 20, Text: "Garcia", FilterType: filterType, Priority: priority, Window: window}
}

func TestDisambiguator_SingleCandidateAlwaysWins(t *testing.T) {
	d := New(64, 5, 0.3)
	c := candidateAt(span.Name, 40, tokens("admitted", "yesterday"))
	got, ok := d.Resolve([]span.Span{c})
	if !ok || got.FilterType != span.Name {
		t.Fatalf("expected the sole candidate to win, got %+v ok=%v", got, ok)
	}
}

func TestDisambiguator_LearnsPrototypeAndFavorsMatchingContext(t *testing.T) {
	d := New(64, 5, 0.1)
	providerWindow := tokens("attending", "physician", "consult", "rounds")
	// Train the PROVIDER_NAME prototype with several confirmed provider contexts.
	for i := 0; i < 3; i++ {
		d.confirm(candidateAt(span.ProviderName, 45, providerWindow))
	}

	candidates := []span.Span{
		candidateAt(span.Name, 40, providerWindow),
		candidateAt(span.ProviderName, 45, providerWindow),
	}
	got, ok := d.Resolve(candidates)
	if !ok {
		t.Fatal("expected a winner, got none")
	}
	if got.FilterType != span.ProviderName {
		t.Errorf("expected PROVIDER_NAME to win given a matching trained context, got %s", got.FilterType)
	}
}

func TestDisambiguator_BelowMinConfidenceDropsAll(t *testing.T) {
	d := New(64, 5, 0.99) // near-impossible threshold
	candidates := []span.Span{
		candidateAt(span.Name, 40, tokens("unrelated", "context", "words")),
		candidateAt(span.ProviderName, 45, tokens("unrelated", "context", "words")),
	}
	_, ok := d.Resolve(candidates)
	if ok {
		t.Error("expected both candidates to be dropped when no prototype clears minConfidence")
	}
}

func TestDisambiguator_ZeroContextDefaultsToHighestPriority(t *testing.T) {
	d := New(64, 5, 0.3)
	candidates := []span.Span{
		candidateAt(span.Name, 40, tokens("the", "a", "of")),
		candidateAt(span.ProviderName, 45, tokens("the", "a", "of")),
	}
	got, ok := d.Resolve(candidates)
	if !ok {
		t.Fatal("expected the zero-vector edge case to still produce a winner")
	}
	if got.FilterType != span.ProviderName {
		t.Errorf("expected the higher-priority candidate to win on a zero context vector, got %s", got.FilterType)
	}
}

func TestDisambiguator_EmptyCandidatesReturnsNotOK(t *testing.T) {
	d := New(64, 5, 0.3)
	_, ok := d.Resolve(nil)
	if ok {
		t.Error("expected no candidates to resolve to ok=false")
	}
}

func TestProtoRing_EvictsOldestBeyondCapacity(t *testing.T) {
	r := newProtoRing(4, 2)
	r.confirm(Vector{1, 0, 0, 0})
	r.confirm(Vector{0, 1, 0, 0})
	r.confirm(Vector{0, 0, 1, 0}) // evicts the first vector

	mean, ok := r.mean()
	if !ok {
		t.Fatal("expected a mean after confirmations")
	}
	if mean[0] != 0 {
		t.Errorf("expected the evicted first vector's coordinate to drop out of the mean, got %.4f", mean[0])
	}
}
