// Package gateway implements the forward proxy that intercepts traffic to
// LLM and EHR domains (spec.md §6a), redacting PHI out of request bodies on
// the way out and restoring it in response bodies on the way back, scoped
// to one session per intercepted request/response exchange.
//
// Traffic flow:
//   - HTTPS CONNECT to an LLM/EHR domain: TLS-terminated via internal/mitm so
//     the body can be inspected and redacted.
//   - HTTPS CONNECT to anything else (including auth domains): tunneled
//     opaquely, exactly as the teacher's proxy does — nothing PHI-bearing is
//     expected to cross a domain outside the allowlist.
//   - Plain HTTP to an LLM/EHR domain: redacted in place, same as the
//     teacher's handleHTTP path.
//
// Upstream proxy (corporate proxy) chaining is automatic: Go's net/http
// respects HTTP_PROXY / HTTPS_PROXY / NO_PROXY environment variables.
package gateway

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/clinacta/phi-deidentifier/internal/config"
	"github.com/clinacta/phi-deidentifier/internal/engine"
	"github.com/clinacta/phi-deidentifier/internal/logger"
	"github.com/clinacta/phi-deidentifier/internal/metrics"
	"github.com/clinacta/phi-deidentifier/internal/mitm"
	"github.com/clinacta/phi-deidentifier/internal/policy"
	"github.com/clinacta/phi-deidentifier/internal/tokens"
)

// Server is the PHI de-identifying gateway.
type Server struct {
	cfg *config.Config
	eng *engine.Engine
	pol *policy.Loader // nil = every request uses policy.Default()

	llmDomains  map[string]bool
	authDomains map[string]bool
	authPaths   map[string]bool

	ca        *mitm.CA
	transport *http.Transport
	log       *logger.Logger
	metrics   *metrics.Metrics
}

// New creates and configures a new gateway server. pol may be nil, in which
// case every redaction runs under policy.Default().
func New(cfg *config.Config, eng *engine.Engine, pol *policy.Loader, ca *mitm.CA, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		cfg:         cfg,
		eng:         eng,
		pol:         pol,
		llmDomains:  toSet(cfg.LLMDomains),
		authDomains: toSet(cfg.AuthDomains),
		authPaths:   toSet(cfg.AuthPaths),
		ca:          ca,
		log:         log,
		metrics:     m,
	}

	// transport uses ProxyFromEnvironment — automatically picks up
	// HTTP_PROXY / HTTPS_PROXY / NO_PROXY env vars for upstream chaining.
	s.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return s
}

// currentPolicy returns the live policy, or policy.Default() if this
// gateway wasn't configured with a reloadable one.
func (s *Server) currentPolicy() *policy.Policy {
	if s.pol == nil {
		return policy.Default()
	}
	return s.pol.Current()
}

// ServeHTTP dispatches incoming proxy requests. It is also the handler
// mitm.HandleConn serves plaintext requests to once a CONNECT tunnel has
// been TLS-terminated.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.handleTunnel(w, r)
		return
	}
	s.handleHTTP(w, r)
}

// handleTunnel handles HTTPS CONNECT requests. A request to a known LLM/EHR
// domain is TLS-terminated locally so its body can be redacted; everything
// else is tunneled opaquely, exactly as the teacher's proxy does.
func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	domain := stripPort(host)

	if s.llmDomains[domain] && !s.isAuthRequest(domain, "") {
		s.handleTerminatedTunnel(w, host)
		return
	}

	s.logf("TUNNEL", "CONNECT %s (opaque)", host)

	destConn, err := net.DialTimeout("tcp", host, 20*time.Second)
	if err != nil {
		http.Error(w, fmt.Sprintf("cannot connect to %s: %v", host, err), http.StatusBadGateway)
		return
	}
	defer destConn.Close() //nolint:errcheck

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		s.logf("TUNNEL", "hijack error for %s: %v", host, err)
		return
	}
	defer clientConn.Close() //nolint:errcheck

	done := make(chan struct{}, 2)
	go func() { io.Copy(destConn, clientConn); done <- struct{}{} }() //nolint:errcheck
	go func() { io.Copy(clientConn, destConn); done <- struct{}{} }() //nolint:errcheck
	<-done
}

// handleTerminatedTunnel hijacks the CONNECT and hands the raw connection to
// internal/mitm for TLS termination, serving every request that arrives over
// it through s (so each gets redacted and forwarded individually, and each
// response gets its tokens restored before being written back).
func (s *Server) handleTerminatedTunnel(w http.ResponseWriter, host string) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		s.logf("TUNNEL", "hijack error for %s: %v", host, err)
		return
	}

	s.logf("TUNNEL", "CONNECT %s (terminated)", host)
	mitm.HandleConn(clientConn, host, s.ca, http.HandlerFunc(s.ServeHTTP))
}

// handleHTTP handles plain HTTP proxy requests and requests arriving over a
// terminated tunnel.
func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	domain := stripPort(host)

	isAuth := s.isAuthRequest(domain, r.URL.Path)
	isLLM := s.llmDomains[domain]

	tag := "PASS"
	switch {
	case isAuth:
		tag = "AUTH/PASS"
	case isLLM:
		tag = "REDACT"
	}
	s.logf("HTTP", "%s %s%s %s", r.Method, domain, r.URL.Path, tag)

	if !isLLM || isAuth {
		s.forward(w, r, "")
		return
	}

	sessionID := tokens.NewSessionID()
	defer s.eng.EndSession(sessionID)

	if err := s.redactRequestBody(r, sessionID); err != nil {
		s.logf("HTTP", "redaction error for %s: %v", domain, err)
	}
	s.forward(w, r, sessionID)
}

// forward round-trips r through the upstream transport and copies the
// response back to w. When sessionID is non-empty, the response body is
// restored (tokens reversed) before being written; streaming (SSE)
// responses are restored on the fly, everything else is buffered first.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.URL.Scheme == "" {
		r.URL.Scheme = "http"
	}
	if r.URL.Host == "" {
		r.URL.Host = r.Host
	}
	r.RequestURI = ""
	removeHopByHop(r.Header)

	resp, err := s.transport.RoundTrip(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("gateway error: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close() //nolint:errcheck

	removeHopByHop(resp.Header)
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if sessionID == "" {
		s.metrics.RecordRequest("passthrough")
		io.Copy(w, resp.Body) //nolint:errcheck
		return
	}
	s.metrics.RecordRequest("restore")

	if isEventStream(resp.Header) {
		s.restoreStreaming(w, resp.Body, sessionID)
		return
	}
	s.restoreBuffered(w, resp.Body, sessionID)
}

func (s *Server) restoreBuffered(w http.ResponseWriter, body io.ReadCloser, sessionID string) {
	raw, err := io.ReadAll(body)
	if err != nil {
		s.logf("RESTORE", "read error for session %s: %v", sessionID, err)
		return
	}
	result, err := s.eng.Restore(sessionID, string(raw))
	if err != nil {
		s.logf("RESTORE", "restore error for session %s: %v", sessionID, err)
		w.Write(raw) //nolint:errcheck
		return
	}
	w.Write([]byte(result.Text)) //nolint:errcheck
}

func (s *Server) restoreStreaming(w http.ResponseWriter, body io.ReadCloser, sessionID string) {
	restored, err := s.eng.StreamingRestore(sessionID, body)
	if err != nil {
		s.logf("RESTORE", "streaming restore error for session %s: %v", sessionID, err)
		return
	}
	defer restored.Close() //nolint:errcheck
	if flusher, ok := w.(http.Flusher); ok {
		io.Copy(flushWriter{w, flusher}, restored) //nolint:errcheck
		return
	}
	io.Copy(w, restored) //nolint:errcheck
}

// flushWriter flushes after every write, so each SSE chunk reaches the
// client as soon as it's restored rather than waiting in a buffer.
type flushWriter struct {
	w io.Writer
	f http.Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	fw.f.Flush()
	return n, err
}

// redactRequestBody reads r's body, redacts PHI out of every JSON string
// leaf (or the whole body as plain text if it doesn't parse as JSON), and
// replaces r.Body with the redacted content under sessionID.
func (s *Server) redactRequestBody(r *http.Request, sessionID string) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	body, err := io.ReadAll(r.Body)
	r.Body.Close() //nolint:errcheck
	if err != nil {
		return err
	}

	redacted, tokenCount, model := s.redactJSON(r.Context(), body, sessionID)
	if tokenCount > 0 {
		redacted = s.injectFilterInstruction(redacted, model)
	}

	r.Body = io.NopCloser(bytes.NewReader(redacted))
	r.ContentLength = int64(len(redacted))
	return nil
}

func (s *Server) isAuthRequest(domain, path string) bool {
	if s.authDomains[domain] {
		return true
	}
	authPrefixes := []string{"auth.", "login.", "accounts.", "sso.", "oauth."}
	for _, prefix := range authPrefixes {
		if strings.HasPrefix(domain, prefix) {
			return true
		}
	}
	for authPath := range s.authPaths {
		if path != "" && strings.HasPrefix(path, authPath) {
			return true
		}
	}
	return false
}

// ReverseProxy returns an httputil.ReverseProxy-based handler for testing.
func (s *Server) ReverseProxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{Transport: s.transport}
}

func (s *Server) logf(action, format string, args ...any) {
	if s.log != nil {
		s.log.Infof(action, format, args...)
	}
}

// --- helpers ---

func stripPort(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}

func isEventStream(h http.Header) bool {
	return strings.Contains(h.Get("Content-Type"), "text/event-stream")
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, v := range items {
		m[v] = true
	}
	return m
}

var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade", "Proxy-Connection",
}

func removeHopByHop(h http.Header) {
	for _, v := range hopByHopHeaders {
		h.Del(v)
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
