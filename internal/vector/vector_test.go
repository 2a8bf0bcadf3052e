package vector

import (
	"testing"

	"github.com/clinacta/phi-deidentifier/internal/span"
)

func tokens(words ...string) []span.Token {
	out := make([]span.Token, len(words))
	for i, w := range words {
		out[i] = span.Token{Text: w}
	}
	return out
}

func TestBuildVector_IsL2Normalized(t *testing.T) {
	v := BuildVector(tokens("admitted", "by", "Dr.", "Garcia", "yesterday"), 64)
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq < 0.99 || sumSq > 1.01 {
		t.Errorf("expected a unit-norm vector, got squared norm %.4f", sumSq)
	}
}

func TestBuildVector_AllStopWordsYieldsZeroVector(t *testing.T) {
	v := BuildVector(tokens("the", "a", "of", "by"), 64)
	if !v.IsZero() {
		t.Error("expected an all-stop-word window to produce the zero vector")
	}
}

func TestBuildVector_EmptyWindowYieldsZeroVector(t *testing.T) {
	v := BuildVector(nil, 64)
	if !v.IsZero() {
		t.Error("expected an empty window to produce the zero vector")
	}
}

func TestCosineSimilarity_IdenticalVectorsIsOne(t *testing.T) {
	v := BuildVector(tokens("attending", "physician", "consult"), 64)
	sim := CosineSimilarity(v, v)
	if sim < 0.999 {
		t.Errorf("expected cosine similarity of a vector with itself to be ~1, got %.4f", sim)
	}
}

func TestCosineSimilarity_ZeroVectorIsZero(t *testing.T) {
	zero := make(Vector, 64)
	v := BuildVector(tokens("attending"), 64)
	if sim := CosineSimilarity(zero, v); sim != 0 {
		t.Errorf("expected cosine similarity against the zero vector to be 0, got %.4f", sim)
	}
}

func TestMurmur32_DeterministicAcrossCalls(t *testing.T) {
	a := murmur32([]byte("garcia"), 0)
	b := murmur32([]byte("garcia"), 0)
	if a != b {
		t.Error("expected murmur32 to be a pure function of its input")
	}
}

func TestMurmur32_DifferentInputsUsuallyDiffer(t *testing.T) {
	a := murmur32([]byte("garcia"), 0)
	b := murmur32([]byte("smith"), 0)
	if a == b {
		t.Error("expected two distinct short strings to hash differently (flaky only on a true collision)")
	}
}
