// Package tokens implements the Token Manager (C8): mints reversible
// replacement tokens for resolved spans, applies them to the source text,
// and reinserts the originals on the way back (spec.md §4.7).
package tokens

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/clinacta/phi-deidentifier/internal/policy"
	"github.com/clinacta/phi-deidentifier/internal/span"
)

// minted records one token this session has handed out.
type minted struct {
	token    string
	original string
}

// Manager mints, applies, and reverses PHI tokens for one redaction session.
// Safe for concurrent use; a single Manager backs exactly one session (a
// session's sessionID is embedded in every token it mints).
type Manager struct {
	sessionID string
	format    policy.TokenFormat
	dateShift policy.DateShift

	mu          sync.Mutex
	counters    map[span.Type]int
	byKey       map[string]minted // "filterType\x00originalText" -> token
	byToken     map[string]minted // token -> original, for Restore
	shiftedDate map[int]string    // SHIFTED_DATE counter -> original date text
	restoreRe   *regexp.Regexp    // compiled alternation of non-date tokens; rebuilt lazily
	dirty       bool
}

var shiftedDateTokenRe = regexp.MustCompile(`\[\d+ days (?:earlier|later), SHIFTED_DATE_(\d+): (?:\d{4}|UNKNOWN)\]`)

// NewSessionID mints a fresh session identifier: a random (v4) UUID,
// truncated to its first 8 hex characters to match spec.md §8's example
// tokens like "{{NAME_A1B2C3D4_1}}". A session is per-request-burst, not
// content-addressed across sessions the way the teacher's MD5-keyed cache
// was — two sessions redacting the same text mint unrelated tokens.
func NewSessionID() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return id[:8]
}

// NewManager builds a token Manager for one session.
func NewManager(sessionID string, format policy.TokenFormat, dateShift policy.DateShift) *Manager {
	return &Manager{
		sessionID:   sessionID,
		format:      format,
		dateShift:   dateShift,
		counters:    make(map[span.Type]int),
		byKey:       make(map[string]minted),
		byToken:     make(map[string]minted),
		shiftedDate: make(map[int]string),
	}
}

// SessionID returns the session identifier embedded in this manager's tokens.
func (m *Manager) SessionID() string { return m.sessionID }

// Redact mints a token for every non-ignored span and substitutes it into
// text, returning the redacted text and the resulting token map. Spans must
// already be sorted ascending by Start (the resolver's contract); minting
// happens in that order so per-type counters read left to right, then
// substitution runs in descending-start order so earlier offsets stay valid
// while later ones are rewritten (spec.md §4.7's applyTokens).
func (m *Manager) Redact(text string, spans []span.Span) (string, map[string]string) {
	runes := []rune(text)
	active := make([]span.Span, 0, len(spans))
	for _, s := range spans {
		if !s.Ignored {
			active = append(active, s)
		}
	}

	mintedTokens := make([]string, len(active))
	for i, s := range active {
		mintedTokens[i] = m.mint(s)
	}

	// Substitute right to left so earlier rune offsets remain valid.
	order := make([]int, len(active))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return active[order[i]].Start > active[order[j]].Start })

	for _, i := range order {
		s := active[i]
		tok := mintedTokens[i]
		runes = append(runes[:s.Start], append([]rune(tok), runes[s.End:]...)...)
	}

	return string(runes), m.TokenMap()
}

// mint returns the token for s, reusing a prior token if this exact
// (filterType, text) pair was already redacted this session (spec.md §8's
// "repeated PHI receives the same replacement within a session").
func (m *Manager) mint(s span.Span) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(s.FilterType) + "\x00" + s.Text
	if existing, ok := m.byKey[key]; ok {
		return existing.token
	}

	m.counters[s.FilterType]++
	n := m.counters[s.FilterType]

	var token string
	if s.FilterType == span.Date && m.dateShift.Enabled && s.Salt != "" {
		token = m.mintShiftedDate(s, n)
	} else {
		token = m.formatToken(s.FilterType, n)
	}

	original := s.Text
	if s.Replacement != "" {
		original = s.Replacement
	}
	rec := minted{token: token, original: original}
	m.byKey[key] = rec
	m.byToken[token] = rec
	m.dirty = true
	return token
}

func (m *Manager) formatToken(t span.Type, n int) string {
	body := fmt.Sprintf("%s_%s_%d", t, m.sessionID, n)
	if m.format == policy.FormatBracketed {
		return "[" + body + "]"
	}
	return "{{" + body + "}}"
}

// mintShiftedDate builds the "[K days earlier/later, SHIFTED_DATE_N: YYYY]"
// form (spec.md §4.7). K and its direction come from the offset the date
// filter already computed into s.Salt; the year is extracted from the
// original (possibly OCR-corrupted) date text so it survives even when the
// month/day characters were garbled.
func (m *Manager) mintShiftedDate(s span.Span, n int) string {
	offset := parseShiftTag(s.Salt)
	direction := "later"
	k := offset
	if offset < 0 {
		direction = "earlier"
		k = -offset
	}
	year := extractYear(s.Text)
	m.shiftedDate[n] = s.Text
	return fmt.Sprintf("[%d days %s, SHIFTED_DATE_%d: %s]", k, direction, n, year)
}

func parseShiftTag(tag string) int {
	n, err := strconv.Atoi(tag)
	if err != nil {
		return 0
	}
	return n
}

var yearRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

func extractYear(text string) string {
	if m := yearRe.FindString(text); m != "" {
		return m
	}
	return "UNKNOWN"
}

// TokenMap returns a snapshot of every token minted so far, mapping token
// text to the original source text it replaced.
func (m *Manager) TokenMap() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.byToken))
	for tok, rec := range m.byToken {
		out[tok] = rec.original
	}
	return out
}

// Restore reverses every token in responseText that this session minted,
// leaving unknown token-shaped substrings verbatim, and reports how many
// replacements it made (spec.md §4.7's reinsert).
func (m *Manager) Restore(responseText string) (string, int) {
	count := 0
	out := shiftedDateTokenRe.ReplaceAllStringFunc(responseText, func(match string) string {
		sub := shiftedDateTokenRe.FindStringSubmatch(match)
		n, err := strconv.Atoi(sub[1])
		if err != nil {
			return match
		}
		m.mu.Lock()
		orig, ok := m.shiftedDate[n]
		m.mu.Unlock()
		if !ok {
			return match
		}
		count++
		return orig
	})

	re := m.restorePattern()
	if re == nil {
		return out, count
	}
	out = re.ReplaceAllStringFunc(out, func(tok string) string {
		m.mu.Lock()
		rec, ok := m.byToken[tok]
		m.mu.Unlock()
		if !ok {
			return tok
		}
		count++
		return rec.original
	})
	return out, count
}

// restorePattern lazily (re)builds a single alternation regex over every
// plain (non-shifted-date) token minted so far, giving reinsert O(|response|)
// single-pass replacement instead of one ReplaceAll per token.
func (m *Manager) restorePattern() *regexp.Regexp {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty && m.restoreRe != nil {
		return m.restoreRe
	}
	if len(m.byToken) == 0 {
		return nil
	}
	parts := make([]string, 0, len(m.byToken))
	for tok := range m.byToken {
		if strings.Contains(tok, "SHIFTED_DATE") {
			continue
		}
		parts = append(parts, regexp.QuoteMeta(tok))
	}
	if len(parts) == 0 {
		return nil
	}
	sort.Slice(parts, func(i, j int) bool { return len(parts[i]) > len(parts[j]) })
	m.restoreRe = regexp.MustCompile(strings.Join(parts, "|"))
	m.dirty = false
	return m.restoreRe
}
