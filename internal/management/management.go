// Package management provides a lightweight HTTP API for runtime inspection
// and configuration of the running gateway.
//
// Endpoints:
//
//	GET  /status          - engine health, dictionary sizes, loaded domains
//	GET  /metrics          - Prometheus exposition format
//	POST /policy/reload   - re-stat and reparse the active policy file
//	POST /domains/add     - add an LLM/EHR domain {"domain":"api.example.com"}
//	POST /domains/remove  - remove a domain {"domain":"api.example.com"}
package management

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinacta/phi-deidentifier/internal/config"
	"github.com/clinacta/phi-deidentifier/internal/metrics"
	"github.com/clinacta/phi-deidentifier/internal/policy"
)

// EngineInfo is the subset of the engine's state the status endpoint
// reports, kept narrow so this package doesn't need to import internal/engine
// (avoiding a dependency the management API has no other reason to carry).
type EngineInfo interface {
	FilterCount() int
	DictionarySizes() map[string]int
}

// Server is the management API server.
type Server struct {
	cfg          *config.Config
	startTime    time.Time
	domains      *DomainRegistry
	token        string // bearer token for auth; empty = no auth
	metrics      *metrics.Metrics
	policyLoader *policy.Loader // nil = no reloadable policy configured
	engine       EngineInfo     // nil = status omits engine-level counts
}

// DomainRegistry holds the mutable set of LLM/EHR domains the gateway
// intercepts. It is shared between the gateway and the management server.
// Changes are persisted to disk via atomic file writes so they survive
// restarts.
type DomainRegistry struct {
	mu          sync.RWMutex
	domains     map[string]bool
	persistPath string // empty = no persistence
}

// NewDomainRegistry creates a registry seeded from the config defaults.
// If persistPath is non-empty and the file exists, its contents take
// precedence over config defaults (it represents runtime overrides).
func NewDomainRegistry(cfg *config.Config, persistPath string) *DomainRegistry {
	r := &DomainRegistry{
		domains:     make(map[string]bool, len(cfg.LLMDomains)),
		persistPath: persistPath,
	}

	if persistPath != "" {
		domains, err := r.loadFromDisk()
		switch {
		case err == nil:
			for _, d := range domains {
				r.domains[d] = true
			}
			log.Printf("[DOMAINS] Loaded %d domains from %s", len(domains), persistPath)
			return r
		case !os.IsNotExist(err):
			log.Printf("[DOMAINS] Warning: failed to load %s: %v (using config defaults)", persistPath, err)
		}
	}

	for _, d := range cfg.LLMDomains {
		r.domains[d] = true
	}
	return r
}

// Has returns true if the domain is registered.
func (r *DomainRegistry) Has(domain string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.domains[domain]
}

// Add adds a domain to the registry and persists to disk.
func (r *DomainRegistry) Add(domain string) {
	r.mu.Lock()
	r.domains[domain] = true
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snapshot)
}

// Remove removes a domain from the registry and persists to disk.
func (r *DomainRegistry) Remove(domain string) {
	r.mu.Lock()
	delete(r.domains, domain)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snapshot)
}

// All returns a sorted slice of all registered domains.
func (r *DomainRegistry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *DomainRegistry) loadFromDisk() ([]string, error) {
	data, err := os.ReadFile(r.persistPath)
	if err != nil {
		return nil, err
	}
	var domains []string
	if err := json.Unmarshal(data, &domains); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.persistPath, err)
	}
	return domains, nil
}

// snapshotLocked returns a sorted copy of the current domain set.
// Caller must hold r.mu (for read or write).
func (r *DomainRegistry) snapshotLocked() []string {
	out := make([]string, 0, len(r.domains))
	for d := range r.domains {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// persist writes the given domain snapshot to disk atomically. It does NOT
// hold r.mu, so it won't block Has/All calls.
func (r *DomainRegistry) persist(domains []string) {
	if r.persistPath == "" {
		return
	}

	data, err := json.MarshalIndent(domains, "", "  ")
	if err != nil {
		log.Printf("[DOMAINS] Marshal error: %v", err)
		return
	}

	dir := filepath.Dir(r.persistPath)
	tmp, err := os.CreateTemp(dir, ".llm-domains-*.tmp")
	if err != nil {
		log.Printf("[DOMAINS] Persist error (create temp): %v", err)
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()        //nolint:errcheck // best-effort cleanup
		os.Remove(tmpName) //nolint:errcheck // #nosec G703 -- tmpName from os.CreateTemp, not user input
		log.Printf("[DOMAINS] Persist error (write): %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck // #nosec G703 -- tmpName from os.CreateTemp, not user input
		log.Printf("[DOMAINS] Persist error (close): %v", err)
		return
	}
	if err := os.Rename(tmpName, r.persistPath); err != nil { // #nosec G703 -- paths from trusted config
		os.Remove(tmpName) //nolint:errcheck // #nosec G703 -- tmpName from os.CreateTemp, not user input
		log.Printf("[DOMAINS] Persist error (rename): %v", err)
		return
	}
}

// New creates a management server. policyLoader and eng may both be nil (a
// caller running the management API standalone, e.g. in a test, gets a
// /status with no engine-level counts and a /policy/reload that always
// answers 503 Service Unavailable).
func New(cfg *config.Config, registry *DomainRegistry, m *metrics.Metrics, policyLoader *policy.Loader, eng EngineInfo) *Server {
	s := &Server{
		cfg:          cfg,
		startTime:    time.Now(),
		domains:      registry,
		token:        cfg.ManagementToken,
		metrics:      m,
		policyLoader: policyLoader,
		engine:       eng,
	}
	if s.token != "" {
		log.Printf("[MANAGEMENT] Bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", s.metricsHandler())
	mux.HandleFunc("/policy/reload", s.handlePolicyReload)
	mux.HandleFunc("/domains/add", s.handleAddDomain)
	mux.HandleFunc("/domains/remove", s.handleRemoveDomain)
	return s.authMiddleware(mux)
}

// metricsHandler returns the Prometheus exposition handler, or a handler
// that reports the metrics registry as unavailable if none was configured.
func (s *Server) metricsHandler() http.Handler {
	if s.metrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			log.Printf("[MANAGEMENT] Unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// domainRegexp validates a DNS hostname (RFC 952 / RFC 1123).
var domainRegexp = regexp.MustCompile(
	`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`,
)

// validDomain checks that the domain is a syntactically valid hostname.
func validDomain(d string) bool {
	return len(d) <= 253 && domainRegexp.MatchString(d)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status          string         `json:"status"`
		Uptime          string         `json:"uptime"`
		GatewayPort     int            `json:"gatewayPort"`
		LLMDomains      []string       `json:"llmDomains"`
		FilterCount     int            `json:"filterCount,omitempty"`
		DictionarySizes map[string]int `json:"dictionarySizes,omitempty"`
		PolicyFile      string         `json:"policyFile,omitempty"`
	}

	resp := response{
		Status:      "running",
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		GatewayPort: s.cfg.GatewayPort,
		LLMDomains:  s.domains.All(),
	}
	if s.engine != nil {
		resp.FilterCount = s.engine.FilterCount()
		resp.DictionarySizes = s.engine.DictionarySizes()
	}
	if s.policyLoader != nil {
		resp.PolicyFile = s.cfg.PolicyFile
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePolicyReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	if s.policyLoader == nil {
		http.Error(w, "no reloadable policy configured", http.StatusServiceUnavailable)
		return
	}
	changed, err := s.policyLoader.Reload()
	if err != nil {
		log.Printf("[MANAGEMENT] Policy reload failed: %v", err)
		http.Error(w, fmt.Sprintf("reload failed: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reloaded": changed})
}

func (s *Server) handleAddDomain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	var req struct {
		Domain string `json:"domain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Domain == "" {
		http.Error(w, "invalid request: need {\"domain\":\"...\"}", http.StatusBadRequest)
		return
	}
	req.Domain = strings.ToLower(req.Domain)
	if !validDomain(req.Domain) {
		http.Error(w, "invalid domain name", http.StatusBadRequest)
		return
	}
	s.domains.Add(req.Domain)
	log.Printf("[MANAGEMENT] Added domain: %s", req.Domain)
	writeJSON(w, http.StatusOK, map[string]string{"added": req.Domain})
}

func (s *Server) handleRemoveDomain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	var req struct {
		Domain string `json:"domain"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Domain == "" {
		http.Error(w, "invalid request: need {\"domain\":\"...\"}", http.StatusBadRequest)
		return
	}
	req.Domain = strings.ToLower(req.Domain)
	if !validDomain(req.Domain) {
		http.Error(w, "invalid domain name", http.StatusBadRequest)
		return
	}
	s.domains.Remove(req.Domain)
	log.Printf("[MANAGEMENT] Removed domain: %s", req.Domain)
	writeJSON(w, http.StatusOK, map[string]string{"removed": req.Domain})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[MANAGEMENT] JSON encode error: %v", err)
	}
}

// ListenAndServe starts the management HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.ManagementPort)
	log.Printf("[MANAGEMENT] Listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
