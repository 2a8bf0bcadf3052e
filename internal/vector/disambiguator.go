package vector

import (
	"container/list"
	"sync"

	"github.com/clinacta/phi-deidentifier/internal/span"
)

// DefaultDim and DefaultMinConfidence are spec.md §4.5's stated defaults.
const (
	DefaultDim           = 512
	DefaultMinConfidence = 0.3
	DefaultCacheSize     = 20
)

// protoRing keeps a running mean of the K most recently confirmed context
// vectors for one filter type. Grounded on the teacher's
// internal/anonymizer/s3fifo_cache.go use of container/list as a bounded
// FIFO; the admission/ghost-set machinery that cache needs for a hit-rate
// problem doesn't apply here, so this keeps only the plain bounded-FIFO
// shape spec.md §4.5 asks for ("cache bounded to K most recent").
type protoRing struct {
	k     int
	queue *list.List
	sum   Vector
}

func newProtoRing(dim, k int) *protoRing {
	return &protoRing{k: k, queue: list.New(), sum: make(Vector, dim)}
}

func (r *protoRing) confirm(v Vector) {
	r.queue.PushBack(v)
	for i := range r.sum {
		r.sum[i] += v[i]
	}
	if r.queue.Len() > r.k {
		front := r.queue.Remove(r.queue.Front()).(Vector)
		for i := range r.sum {
			r.sum[i] -= front[i]
		}
	}
}

func (r *protoRing) mean() (Vector, bool) {
	n := r.queue.Len()
	if n == 0 {
		return nil, false
	}
	out := make(Vector, len(r.sum))
	for i, s := range r.sum {
		out[i] = s / float64(n)
	}
	return out, true
}

// Disambiguator resolves same-position filter-type ties (spec.md §4.5).
type Disambiguator struct {
	dim           int
	cacheSize     int
	minConfidence float64

	mu     sync.Mutex
	protos map[span.Type]*protoRing
}

// New builds a Disambiguator with the given vector dimension, per-type
// prototype cache size, and minimum winning cosine similarity.
func New(dim, cacheSize int, minConfidence float64) *Disambiguator {
	return &Disambiguator{
		dim: dim, cacheSize: cacheSize, minConfidence: minConfidence,
		protos: make(map[span.Type]*protoRing),
	}
}

// Default builds a Disambiguator using spec.md §4.5's stated defaults.
func Default() *Disambiguator {
	return New(DefaultDim, DefaultCacheSize, DefaultMinConfidence)
}

// Resolve picks a single winner among candidates, which must all share the
// same [start, end) range. It returns ok=false when every candidate should
// be dropped (the winning cosine similarity falls below minConfidence).
func (d *Disambiguator) Resolve(candidates []span.Span) (span.Span, bool) {
	switch len(candidates) {
	case 0:
		return span.Span{}, false
	case 1:
		d.confirm(candidates[0])
		return candidates[0], true
	}

	ctx := BuildVector(candidates[0].Window, d.dim)
	if ctx.IsZero() {
		winner := highestPriority(candidates)
		d.confirm(winner)
		return winner, true
	}

	best := candidates[0]
	bestScore := -2.0 // below any valid cosine similarity ([-1, 1])
	tie := false
	for _, c := range candidates {
		score := d.similarityTo(ctx, c.FilterType)
		switch {
		case score > bestScore:
			bestScore, best, tie = score, c, false
		case score == bestScore:
			tie = true
		}
	}
	if tie {
		best = highestPriority(candidates)
	}
	if bestScore < d.minConfidence {
		return span.Span{}, false
	}
	d.confirm(best)
	return best, true
}

func (d *Disambiguator) similarityTo(ctx Vector, t span.Type) float64 {
	d.mu.Lock()
	ring, ok := d.protos[t]
	var proto Vector
	if ok {
		proto, ok = ring.mean()
	}
	d.mu.Unlock()
	if !ok {
		return 0
	}
	return CosineSimilarity(ctx, proto)
}

func (d *Disambiguator) confirm(s span.Span) {
	v := BuildVector(s.Window, d.dim)
	if v.IsZero() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	ring, ok := d.protos[s.FilterType]
	if !ok {
		ring = newProtoRing(d.dim, d.cacheSize)
		d.protos[s.FilterType] = ring
	}
	ring.confirm(v)
}

// highestPriority breaks a similarity tie (or a zero-context candidate set)
// by compile-time filter priority (spec.md §4.5).
func highestPriority(candidates []span.Span) span.Span {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Priority > best.Priority {
			best = c
		}
	}
	return best
}
