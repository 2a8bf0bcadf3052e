// Package spanindex implements the Span Index (C4): an augmented interval
// tree keyed by [start, end) supporting overlap queries, containment checks
// (via span.Span.Contains on the candidates an overlap query returns), and
// identical-span grouping, at O(log n) insert and O(log n + k) query
// (spec.md §4.4). No corpus repo carries an interval-tree library, so this
// is hand-rolled as a treap: node priorities come from a deterministic
// splitmix64 counter rather than math/rand, keeping tree shape (and
// therefore traversal order) a pure function of insertion order (spec.md's
// P4 determinism).
package spanindex

import (
	"math"

	"github.com/clinacta/phi-deidentifier/internal/span"
)

type node struct {
	span        span.Span
	priority    uint64
	maxEnd      int
	left, right *node
}

// Index is an augmented treap of spans, ordered by (Start, End).
type Index struct {
	root  *node
	count uint64
	size  int
}

// New returns an empty span index.
func New() *Index {
	return &Index{}
}

// Len reports the number of spans currently indexed.
func (idx *Index) Len() int { return idx.size }

// Insert adds s to the index.
func (idx *Index) Insert(s span.Span) {
	idx.root = insert(idx.root, s, splitmix64(idx.count))
	idx.count++
	idx.size++
}

// Overlapping returns every indexed span that shares at least one rune
// position with the half-open range [start, end), in no particular order.
func (idx *Index) Overlapping(start, end int) []span.Span {
	var out []span.Span
	search(idx.root, start, end, &out)
	return out
}

// OverlappingSpan is a convenience wrapper over Overlapping for an existing span.
func (idx *Index) OverlappingSpan(s span.Span) []span.Span {
	return idx.Overlapping(s.Start, s.End)
}

// IdenticalAt returns every indexed span whose range is exactly [start, end),
// used by the engine to build the ambiguousWith set C6 disambiguates
// (spec.md §4.5).
func (idx *Index) IdenticalAt(start, end int) []span.Span {
	var out []span.Span
	for _, s := range idx.Overlapping(start, end) {
		if s.Start == start && s.End == end {
			out = append(out, s)
		}
	}
	return out
}

// All returns every indexed span in ascending (Start, End) order.
func (idx *Index) All() []span.Span {
	out := make([]span.Span, 0, idx.size)
	inorder(idx.root, &out)
	return out
}

// GroupIdentical partitions spans by identical [Start, End) range. It is a
// plain function rather than an Index method so callers can group a raw
// span batch before any of it is inserted.
func GroupIdentical(spans []span.Span) map[[2]int][]span.Span {
	groups := make(map[[2]int][]span.Span)
	for _, s := range spans {
		key := [2]int{s.Start, s.End}
		groups[key] = append(groups[key], s)
	}
	return groups
}

func insert(t *node, s span.Span, priority uint64) *node {
	if t == nil {
		return &node{span: s, priority: priority, maxEnd: s.End}
	}
	if less(s, t.span) {
		t.left = insert(t.left, s, priority)
		if t.left.priority > t.priority {
			t = rotateRight(t)
		}
	} else {
		t.right = insert(t.right, s, priority)
		if t.right.priority > t.priority {
			t = rotateLeft(t)
		}
	}
	update(t)
	return t
}

func less(a, b span.Span) bool {
	if a.Start != b.Start {
		return a.Start < b.Start
	}
	return a.End < b.End
}

func rotateRight(t *node) *node {
	l := t.left
	t.left = l.right
	l.right = t
	update(t)
	update(l)
	return l
}

func rotateLeft(t *node) *node {
	r := t.right
	t.right = r.left
	r.left = t
	update(t)
	update(r)
	return r
}

func update(t *node) {
	t.maxEnd = t.span.End
	if m := maxEndOf(t.left); m > t.maxEnd {
		t.maxEnd = m
	}
	if m := maxEndOf(t.right); m > t.maxEnd {
		t.maxEnd = m
	}
}

func maxEndOf(t *node) int {
	if t == nil {
		return math.MinInt
	}
	return t.maxEnd
}

// search walks the treap collecting every node whose range overlaps the
// half-open query range [lo, hi), pruning subtrees whose maxEnd or Start
// rule out any possible overlap (CLRS-style augmented interval search).
func search(t *node, lo, hi int, out *[]span.Span) {
	if t == nil {
		return
	}
	if t.left != nil && t.left.maxEnd > lo {
		search(t.left, lo, hi, out)
	}
	if t.span.Start < hi && lo < t.span.End {
		*out = append(*out, t.span)
	}
	if t.span.Start < hi {
		search(t.right, lo, hi, out)
	}
}

func inorder(t *node, out *[]span.Span) {
	if t == nil {
		return
	}
	inorder(t.left, out)
	*out = append(*out, t.span)
	inorder(t.right, out)
}

// splitmix64 produces a well-mixed 64-bit priority from a monotonically
// increasing counter, giving the treap randomized-balance behavior without
// any non-deterministic seed.
func splitmix64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	z := x
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
