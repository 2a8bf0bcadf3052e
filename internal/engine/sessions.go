package engine

import (
	"sync"

	"github.com/clinacta/phi-deidentifier/internal/policy"
	"github.com/clinacta/phi-deidentifier/internal/tokens"
)

// sessionRegistry holds one token Manager per live session so repeated PHI
// reuses its token across separate Redact calls within the same session
// (spec.md §8 scenario 6), not just within one call.
type sessionRegistry struct {
	mu       sync.Mutex
	managers map[string]*tokens.Manager
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{managers: make(map[string]*tokens.Manager)}
}

func (r *sessionRegistry) get(sessionID string, format policy.TokenFormat, dateShift policy.DateShift) *tokens.Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.managers[sessionID]; ok {
		return m
	}
	m := tokens.NewManager(sessionID, format, dateShift)
	r.managers[sessionID] = m
	return m
}

func (r *sessionRegistry) lookup(sessionID string) (*tokens.Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[sessionID]
	return m, ok
}

// EndSession discards a session's token manager. Callers that mint a fresh
// session per request (processBatch) never need this; a gateway holding a
// session open across many redact/restore round trips should call it once
// the conversation ends so the map doesn't grow unbounded.
func (e *Engine) EndSession(sessionID string) {
	e.sessions.mu.Lock()
	defer e.sessions.mu.Unlock()
	delete(e.sessions.managers, sessionID)
}
