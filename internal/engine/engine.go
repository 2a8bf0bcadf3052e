// Package engine implements the Parallel Engine (C7): it owns every other
// component (dictionary, filters, whitelist, resolver, disambiguator, token
// manager) and runs one redaction request through the pipeline spec.md
// §4.6 describes, fanning out the enabled filters concurrently over the
// same immutable input and joining their spans in registration order so the
// result never depends on which filter happened to finish first (spec.md's
// P4). Grounded on internal/anonymizer/anonymizer.go's goroutine-based
// concurrency style, generalized from that file's single background Ollama
// call to N concurrent filter detections joined with a sync.WaitGroup.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/clinacta/phi-deidentifier/internal/dictionary"
	"github.com/clinacta/phi-deidentifier/internal/filters"
	"github.com/clinacta/phi-deidentifier/internal/logger"
	"github.com/clinacta/phi-deidentifier/internal/metrics"
	"github.com/clinacta/phi-deidentifier/internal/policy"
	"github.com/clinacta/phi-deidentifier/internal/resolver"
	"github.com/clinacta/phi-deidentifier/internal/span"
	"github.com/clinacta/phi-deidentifier/internal/vector"
	"github.com/clinacta/phi-deidentifier/internal/whitelist"
)

// defaultBatchSize bounds in-flight detections for ProcessBatch (spec.md §5).
const defaultBatchSize = 100

// Engine owns every long-lived, request-spanning component: the dictionary,
// the filter set, the whitelist, the vector disambiguator's learned
// prototypes, and the per-session token managers. A single Engine is meant
// to be built once at startup and shared across every request (spec.md §9's
// "global mutable caches confined to a single owner").
type Engine struct {
	dict          *dictionary.Store
	whitelist     *whitelist.Whitelist
	disambiguator *vector.Disambiguator
	filters       []filters.Filter
	metrics       *metrics.Metrics
	logger        *logger.Logger

	sessions *sessionRegistry
}

// New builds an Engine over a loaded dictionary. dict may be nil: New
// substitutes an empty dictionary.Store (the same graceful-degradation path
// dictionary.Load takes for a missing corpus directory) so every filter can
// still assume a non-nil Store, just one with nothing in it. A caller doing
// this should log its own DictionaryUnavailable warning; the engine itself
// only fails fast when literally no filter is registered, which never
// happens with the built-in set.
func New(dict *dictionary.Store, met *metrics.Metrics, log *logger.Logger) *Engine {
	if dict == nil {
		dict = dictionary.Load("", log)
	}
	return &Engine{
		dict:          dict,
		whitelist:     whitelist.New(dict),
		disambiguator: vector.Default(),
		filters:       filters.All(),
		metrics:       met,
		logger:        log,
		sessions:      newSessionRegistry(),
	}
}

// FilterCount returns how many filters are registered, regardless of
// per-policy enable state, for the management API's /status endpoint.
func (e *Engine) FilterCount() int {
	return len(e.filters)
}

// DictionarySizes returns the loaded dictionary's per-corpus entry counts
// for the management API's /status endpoint.
func (e *Engine) DictionarySizes() map[string]int {
	return e.dict.Sizes()
}

// Result is redact's return shape (spec.md §6).
type Result struct {
	Text   string
	Tokens map[string]string
	Spans  []span.Span
}

// FilterTiming is one filter's contribution to redactWithDetails' stats.
type FilterTiming struct {
	Duration time.Duration
	Overrun  bool
}

// Stats is redactWithDetails' extra return value (spec.md §6).
type Stats struct {
	ExecutionTime  time.Duration
	RedactionCount int
	Breakdown      map[span.Type]int
	FilterTimings  map[span.Type]FilterTiming
	Fingerprint    string
}

// RestoreResult is restore's return shape (spec.md §6).
type RestoreResult struct {
	Text          string
	RestoredCount int
}

// Redact runs the full detection-through-tokenization pipeline for one
// request and returns the redacted text, the token map, and the surviving
// spans. sessionID scopes token identity: repeated calls with the same
// sessionID reuse tokens for repeated PHI (spec.md §8 scenario 6); callers
// that want a fresh, unrelated token space should mint one with
// tokens.NewSessionID.
func (e *Engine) Redact(ctx context.Context, sessionID, text string, pol *policy.Policy) (Result, error) {
	result, _, err := e.run(ctx, sessionID, text, pol, false)
	return result, err
}

// RedactWithDetails is Redact plus per-filter timings and category
// breakdown counts (spec.md §6).
func (e *Engine) RedactWithDetails(ctx context.Context, sessionID, text string, pol *policy.Policy) (Result, Stats, error) {
	return e.run(ctx, sessionID, text, pol, true)
}

func (e *Engine) run(ctx context.Context, sessionID, text string, pol *policy.Policy, withDetails bool) (Result, Stats, error) {
	started := time.Now()
	st := stateInit
	empty := Result{Text: text, Tokens: map[string]string{}}

	if pol == nil {
		pol = policy.Default()
	}
	if err := pol.Validate(); err != nil {
		e.metrics.RecordPolicyError()
		return empty, Stats{}, policyValidationError(err)
	}
	if len(e.filters) == 0 {
		return empty, Stats{}, dictionaryUnavailableError(fmt.Errorf("no filters registered"))
	}
	st = statePolicyReady

	if err := ctx.Err(); err != nil {
		return empty, Stats{}, cancelledError()
	}

	mgr := e.sessions.get(sessionID, pol.TokenFormat, pol.DateShift)

	st = stateDetecting
	in := filters.NewInput(text, pol, e.dict, sessionID)
	rawSpans, timings := e.detect(ctx, in, pol)

	if err := ctx.Err(); err != nil {
		st = stateFailed
		return empty, Stats{}, cancelledError()
	}

	allWords := tokenizeWords(in.Runes)
	for i := range rawSpans {
		rawSpans[i].Window = buildWindow(allWords, rawSpans[i], windowSize)
	}

	st = stateResolving
	whitelisted := e.whitelist.Apply(rawSpans)
	resolved := resolver.Resolve(whitelisted)
	final := e.disambiguate(resolved)
	final = e.applyPolicyCutoffs(final, pol)

	st = stateTokenizing
	redactedText, tokenMap := mgr.Redact(text, final)

	for _, s := range final {
		if !s.Ignored {
			e.metrics.RecordSpan(string(s.FilterType))
		}
	}

	st = stateDone
	if e.logger != nil {
		e.logger.Debugf("redact", "session=%s state=%s spans=%d", sessionID, st, len(final))
	}
	e.metrics.RecordRequest("redacted")
	e.metrics.RecordRedactLatency(time.Since(started))

	result := Result{Text: redactedText, Tokens: tokenMap, Spans: final}
	if !withDetails {
		return result, Stats{}, nil
	}

	breakdown := make(map[span.Type]int)
	for _, s := range final {
		if !s.Ignored {
			breakdown[s.FilterType]++
		}
	}
	stats := Stats{
		ExecutionTime:  time.Since(started),
		RedactionCount: len(tokenMap),
		Breakdown:      breakdown,
		FilterTimings:  timings,
		Fingerprint:    fingerprint(text),
	}
	return result, stats, nil
}

// disambiguate resolves every span still carrying recorded alternatives
// (identical-range, different-type ties the resolver left standing) through
// C6, replacing each representative with whichever candidate wins; a
// candidate the disambiguator drops entirely (below minConfidence) is
// dropped from the final set instead of replaced.
func (e *Engine) disambiguate(spans []span.Span) []span.Span {
	out := make([]span.Span, 0, len(spans))
	for _, s := range spans {
		if len(s.AmbiguousWith) == 0 {
			out = append(out, s)
			continue
		}
		candidates := make([]span.Span, len(s.AmbiguousWith))
		for i, alt := range s.AmbiguousWith {
			c := s
			c.FilterType = alt.FilterType
			c.Confidence = alt.Confidence
			c.Priority = alt.Priority
			c.AmbiguousWith = nil
			candidates[i] = c
		}
		winner, ok := e.disambiguator.Resolve(candidates)
		if !ok {
			continue
		}
		out = append(out, winner)
	}
	return out
}

// applyPolicyCutoffs drops spans below policy.minConfidence[type] or whose
// type the policy disables, after C6 may have swapped in an alternative
// type the top-level enabled-filter check never saw (spec.md §4.6 step 5).
func (e *Engine) applyPolicyCutoffs(spans []span.Span, pol *policy.Policy) []span.Span {
	out := make([]span.Span, 0, len(spans))
	for _, s := range spans {
		if s.Ignored {
			out = append(out, s)
			continue
		}
		if !pol.IsEnabled(s.FilterType) || s.Confidence < pol.MinConfidenceFor(s.FilterType) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// filterResult is one enabled filter's contribution, keyed by its position
// in the enabled slice so join order never depends on completion order.
type filterResult struct {
	spans  []span.Span
	timing FilterTiming
}

// detect fans out every policy-enabled filter against in concurrently and
// joins their spans in filter-registration order.
func (e *Engine) detect(ctx context.Context, in filters.Input, pol *policy.Policy) ([]span.Span, map[span.Type]FilterTiming) {
	enabled := make([]filters.Filter, 0, len(e.filters))
	for _, f := range e.filters {
		if pol.IsEnabled(f.Type()) {
			enabled = append(enabled, f)
		}
	}

	results := make([]filterResult, len(enabled))
	var wg sync.WaitGroup
	wg.Add(len(enabled))
	for i, f := range enabled {
		go func(i int, f filters.Filter) {
			defer wg.Done()
			results[i] = e.runFilter(ctx, f, in, pol)
		}(i, f)
	}
	wg.Wait()

	var spans []span.Span
	timings := make(map[span.Type]FilterTiming, len(enabled))
	for i, r := range results {
		spans = append(spans, r.spans...)
		timings[enabled[i].Type()] = r.timing
	}
	return spans, timings
}

// runFilter executes one filter under a soft deadline. A filter that
// doesn't return in time has its result discarded and the overrun recorded;
// the detection goroutine itself is abandoned rather than killed, the same
// trade-off the teacher's dispatchOllamaAsync makes for a background
// lookup it stops waiting on.
func (e *Engine) runFilter(ctx context.Context, f filters.Filter, in filters.Input, pol *policy.Policy) filterResult {
	start := time.Now()
	done := make(chan []span.Span, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				if e.logger != nil {
					e.logger.Errorf("filter_panic", "filter %s panicked: %v", f.Type(), r)
				}
				e.metrics.RecordEngineError()
				done <- nil
				return
			}
		}()
		done <- f.Detect(in)
	}()

	select {
	case spans := <-done:
		return filterResult{spans: spans, timing: FilterTiming{Duration: time.Since(start)}}
	case <-time.After(pol.FilterTimeout()):
		e.metrics.RecordFilterOverrun(string(f.Type()))
		if e.logger != nil {
			e.logger.Warnf("filter_timeout", "filter %s exceeded its %s soft deadline", f.Type(), pol.FilterTimeout())
		}
		return filterResult{timing: FilterTiming{Duration: time.Since(start), Overrun: true}}
	case <-ctx.Done():
		return filterResult{timing: FilterTiming{Duration: time.Since(start)}}
	}
}

// Restore reverses every token sessionID's manager minted in responseText.
// Returns a DictionaryUnavailable-free Internal error if sessionID names no
// known session (nothing was ever redacted under it, so there's nothing to
// reverse).
func (e *Engine) Restore(sessionID, responseText string) (RestoreResult, error) {
	mgr, ok := e.sessions.lookup(sessionID)
	if !ok {
		return RestoreResult{Text: responseText}, internalError(errUnknownSession(sessionID))
	}
	text, count := mgr.Restore(responseText)
	e.metrics.RecordReinsertion(count)
	return RestoreResult{Text: text, RestoredCount: count}, nil
}

// StreamingRestore wraps src in a reader that reverses sessionID's tokens as
// bytes arrive, for a response body a caller is forwarding before it's fully
// buffered (an SSE stream, e.g.). The returned reader's Close also closes
// src; the caller never receives a reference to src itself. Returns the same
// unknown-session error as Restore if sessionID named no redact call, and
// closes src itself in that case since the caller gets nothing to close.
func (e *Engine) StreamingRestore(sessionID string, src io.ReadCloser) (io.ReadCloser, error) {
	mgr, ok := e.sessions.lookup(sessionID)
	if !ok {
		src.Close() //nolint:errcheck
		return nil, internalError(errUnknownSession(sessionID))
	}
	return mgr.StreamingRestore(src), nil
}

func fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func errUnknownSession(sessionID string) error {
	return fmt.Errorf("no session %q has minted any tokens", sessionID)
}
