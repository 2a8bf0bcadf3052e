// Package metrics provides performance counters for the de-identification
// engine.
//
// Request, error, token and async counters are sync/atomic values, as in the
// teacher proxy; the per-category cache hit/miss counts, per-type span counts
// and filter-deadline overruns are maps, each guarded by its own mutex. Each counter is mirrored into a
// github.com/prometheus/client_golang collector so the engine can also serve
// a standard /metrics scrape (internal/management) instead of only the
// JSON Snapshot() the teacher originally exposed. Latency statistics use one
// mutex per dimension; they are updated at most once per request.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all runtime counters for a running engine instance.
type Metrics struct {
	registry *prometheus.Registry

	// Request counters
	RequestsTotal       atomic.Int64
	RequestsRedacted    atomic.Int64
	RequestsPassthrough atomic.Int64
	RequestsRestore     atomic.Int64

	// Error counters
	ErrorsEngine atomic.Int64
	ErrorsPolicy atomic.Int64

	// Token/span volume
	TokensMinted     atomic.Int64
	TokensReinserted atomic.Int64

	// Dictionary / phonetic cache telemetry (C1)
	cacheMu     sync.Mutex
	cacheHits   map[string]int64
	cacheMisses map[string]int64

	// Per-filter-type span breakdown (C7 stats.breakdown)
	spanMu sync.Mutex
	spans  map[string]int64

	// Asynchronous enrichment path (an optional remote validator warming a
	// cache off the hot path; see internal/dictionary)
	AsyncDispatches atomic.Int64
	AsyncErrors     atomic.Int64
	CacheFallbacks  atomic.Int64

	// Filter soft-deadline overruns (spec §7's partial-timeout case)
	overrunMu sync.Mutex
	overruns  map[string]int64

	redactMu   sync.Mutex
	redactStat latencyStats

	upstreamMu   sync.Mutex
	upstreamStat latencyStats

	promRequests *prometheus.CounterVec
	promErrors   *prometheus.CounterVec
	promSpans    *prometheus.CounterVec
	promCache    *prometheus.CounterVec
	promRedact   prometheus.Histogram
	promUpstream prometheus.Histogram

	startTime time.Time
}

// New returns a new Metrics with the start time recorded, registered on its
// own prometheus.Registry so multiple engines (or tests) never collide on
// the global default registry.
func New() *Metrics {
	m := &Metrics{
		registry:    prometheus.NewRegistry(),
		cacheHits:   make(map[string]int64),
		cacheMisses: make(map[string]int64),
		spans:       make(map[string]int64),
		overruns:    make(map[string]int64),
		startTime:   time.Now(),

		promRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phi_requests_total", Help: "Requests processed, by outcome.",
		}, []string{"outcome"}),
		promErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phi_errors_total", Help: "Failures, by origin.",
		}, []string{"origin"}),
		promSpans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phi_spans_total", Help: "Detected spans, by filter type.",
		}, []string{"filter_type"}),
		promCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "phi_dictionary_cache_total", Help: "Dictionary/phonetic cache lookups.",
		}, []string{"category", "result"}),
		promRedact: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "phi_redact_duration_ms", Help: "End-to-end redact pass duration.",
			Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 10, 25, 50},
		}),
		promUpstream: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "phi_upstream_duration_ms", Help: "Downstream round-trip duration.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.promRequests, m.promErrors, m.promSpans, m.promCache,
		m.promRedact, m.promUpstream)
	return m
}

// Registry exposes the underlying prometheus.Registry for promhttp.Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RecordRequest increments the total and outcome-specific request counters.
// outcome is one of "redacted", "passthrough", "restore".
func (m *Metrics) RecordRequest(outcome string) {
	m.RequestsTotal.Add(1)
	switch outcome {
	case "redacted":
		m.RequestsRedacted.Add(1)
	case "passthrough":
		m.RequestsPassthrough.Add(1)
	case "restore":
		m.RequestsRestore.Add(1)
	}
	if m.promRequests != nil {
		m.promRequests.WithLabelValues(outcome).Inc()
	}
}

// RecordEngineError increments the internal-engine-failure counter.
func (m *Metrics) RecordEngineError() {
	m.ErrorsEngine.Add(1)
	if m.promErrors != nil {
		m.promErrors.WithLabelValues("engine").Inc()
	}
}

// RecordPolicyError increments the policy-validation-failure counter.
func (m *Metrics) RecordPolicyError() {
	m.ErrorsPolicy.Add(1)
	if m.promErrors != nil {
		m.promErrors.WithLabelValues("policy").Inc()
	}
}

// RecordSpan increments the per-type span counter and the tokens-minted total.
func (m *Metrics) RecordSpan(filterType string) {
	m.TokensMinted.Add(1)
	m.spanMu.Lock()
	if m.spans == nil {
		m.spans = make(map[string]int64)
	}
	m.spans[filterType]++
	m.spanMu.Unlock()
	if m.promSpans != nil {
		m.promSpans.WithLabelValues(filterType).Inc()
	}
}

// RecordReinsertion adds n to the tokens-reinserted counter (n may be 0).
func (m *Metrics) RecordReinsertion(n int) {
	if n <= 0 {
		return
	}
	m.TokensReinserted.Add(int64(n))
}

// RecordCacheHit increments the dictionary/phonetic cache hit counter for category.
func (m *Metrics) RecordCacheHit(category string) {
	m.cacheMu.Lock()
	if m.cacheHits == nil {
		m.cacheHits = make(map[string]int64)
	}
	m.cacheHits[category]++
	m.cacheMu.Unlock()
	if m.promCache != nil {
		m.promCache.WithLabelValues(category, "hit").Inc()
	}
}

// RecordCacheMiss increments the dictionary/phonetic cache miss counter for category.
func (m *Metrics) RecordCacheMiss(category string) {
	m.cacheMu.Lock()
	if m.cacheMisses == nil {
		m.cacheMisses = make(map[string]int64)
	}
	m.cacheMisses[category]++
	m.cacheMu.Unlock()
	if m.promCache != nil {
		m.promCache.WithLabelValues(category, "miss").Inc()
	}
}

// RecordFilterOverrun increments the soft-deadline overrun counter for filter.
func (m *Metrics) RecordFilterOverrun(filter string) {
	m.overrunMu.Lock()
	if m.overruns == nil {
		m.overruns = make(map[string]int64)
	}
	m.overruns[filter]++
	m.overrunMu.Unlock()
}

// RecordAsyncDispatch increments the async-enrichment dispatch counter.
func (m *Metrics) RecordAsyncDispatch() { m.AsyncDispatches.Add(1) }

// RecordAsyncError increments the async-enrichment failure counter.
func (m *Metrics) RecordAsyncError() { m.AsyncErrors.Add(1) }

// RecordCacheFallback increments the counter for requests that fell back to
// an uncached synchronous lookup.
func (m *Metrics) RecordCacheFallback() { m.CacheFallbacks.Add(1) }

// RecordRedactLatency records the duration of one end-to-end redact pass.
func (m *Metrics) RecordRedactLatency(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0
	m.redactMu.Lock()
	m.redactStat.record(ms)
	m.redactMu.Unlock()
	if m.promRedact != nil {
		m.promRedact.Observe(ms)
	}
}

// RecordUpstreamLatency records the round-trip time to a downstream consumer
// (e.g. the gateway's forwarded LLM/EHR call).
func (m *Metrics) RecordUpstreamLatency(d time.Duration) {
	ms := float64(d.Microseconds()) / 1000.0
	m.upstreamMu.Lock()
	m.upstreamStat.record(ms)
	m.upstreamMu.Unlock()
	if m.promUpstream != nil {
		m.promUpstream.Observe(ms)
	}
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.redactMu.Lock()
	redact := m.redactStat.snapshot()
	m.redactMu.Unlock()

	m.upstreamMu.Lock()
	upstream := m.upstreamStat.snapshot()
	m.upstreamMu.Unlock()

	m.cacheMu.Lock()
	hits := copyNonZero(m.cacheHits)
	misses := copyNonZero(m.cacheMisses)
	m.cacheMu.Unlock()

	m.spanMu.Lock()
	breakdown := copyNonZero(m.spans)
	m.spanMu.Unlock()

	return Snapshot{
		Requests: RequestSnapshot{
			Total:       m.RequestsTotal.Load(),
			Redacted:    m.RequestsRedacted.Load(),
			Passthrough: m.RequestsPassthrough.Load(),
			Restore:     m.RequestsRestore.Load(),
		},
		Errors: ErrorSnapshot{
			Engine: m.ErrorsEngine.Load(),
			Policy: m.ErrorsPolicy.Load(),
		},
		PHITokens: PHISnapshot{
			Minted:           m.TokensMinted.Load(),
			Reinserted:       m.TokensReinserted.Load(),
			Breakdown:        breakdown,
			CacheHits:        hits,
			CacheMisses:      misses,
			OllamaDispatches: m.AsyncDispatches.Load(),
			OllamaErrors:     m.AsyncErrors.Load(),
			CacheFallbacks:   m.CacheFallbacks.Load(),
		},
		Latency: LatencyGroup{
			RedactMs:   redact,
			UpstreamMs: upstream,
		},
		UptimeSecs: time.Since(m.startTime).Seconds(),
	}
}

func copyNonZero(src map[string]int64) map[string]int64 {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]int64, len(src))
	for k, v := range src {
		if v != 0 {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Requests   RequestSnapshot `json:"requests"`
	Errors     ErrorSnapshot   `json:"errors"`
	PHITokens  PHISnapshot     `json:"phiTokens"`
	Latency    LatencyGroup    `json:"latency"`
	UptimeSecs float64         `json:"uptimeSecs"`
}

// RequestSnapshot holds request-level counters.
type RequestSnapshot struct {
	Total       int64 `json:"total"`
	Redacted    int64 `json:"redacted"`
	Passthrough int64 `json:"passthrough"`
	Restore     int64 `json:"restore"`
}

// ErrorSnapshot holds error counters.
type ErrorSnapshot struct {
	Engine int64 `json:"engine"`
	Policy int64 `json:"policy"`
}

// PHISnapshot holds PHI token/cache volume counters. Maps omit zero-count
// and never-seen categories entirely (nil, not empty) so a fresh Metrics
// serializes to a minimal snapshot.
type PHISnapshot struct {
	Minted           int64            `json:"minted"`
	Reinserted       int64            `json:"reinserted"`
	Breakdown        map[string]int64 `json:"breakdown,omitempty"`
	CacheHits        map[string]int64 `json:"cacheHits,omitempty"`
	CacheMisses      map[string]int64 `json:"cacheMisses,omitempty"`
	OllamaDispatches int64            `json:"asyncDispatches"`
	OllamaErrors     int64            `json:"asyncErrors"`
	CacheFallbacks   int64            `json:"cacheFallbacks"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	RedactMs   LatencySnapshot `json:"redactMs"`
	UpstreamMs LatencySnapshot `json:"upstreamMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
