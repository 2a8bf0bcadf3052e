package gateway

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clinacta/phi-deidentifier/internal/config"
	"github.com/clinacta/phi-deidentifier/internal/dictionary"
	"github.com/clinacta/phi-deidentifier/internal/engine"
	"github.com/clinacta/phi-deidentifier/internal/logger"
	"github.com/clinacta/phi-deidentifier/internal/metrics"
)

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "first_names.txt"), []byte("John\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "surnames.txt"), []byte("Smith\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	dict := dictionary.Load(dir, nil)
	return engine.New(dict, metrics.New(), logger.New("TEST", "error"))
}

func testServer(t *testing.T, llmDomains []string) *Server {
	t.Helper()
	cfg := config.Load()
	cfg.LLMDomains = llmDomains
	cfg.AuthDomains = []string{"accounts.example.com"}
	cfg.AuthPaths = []string{"/auth"}
	return New(cfg, testEngine(t), nil, nil, metrics.New(), logger.New("TEST", "error"))
}

func TestStripPort(t *testing.T) {
	tests := []struct{ in, want string }{
		{"api.openai.com:443", "api.openai.com"},
		{"api.openai.com", "api.openai.com"},
		{"[::1]:8080", "::1"},
	}
	for _, tt := range tests {
		if got := stripPort(tt.in); got != tt.want {
			t.Errorf("stripPort(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsAuthRequest(t *testing.T) {
	s := testServer(t, []string{"api.openai.com"})

	tests := []struct {
		domain, path string
		want         bool
	}{
		{"accounts.example.com", "/", true},          // exact auth domain
		{"login.api.openai.com", "/", true},           // auth subdomain prefix
		{"api.openai.com", "/auth/callback", true},    // auth path prefix
		{"api.openai.com", "/v1/chat/completions", false},
	}
	for _, tt := range tests {
		if got := s.isAuthRequest(tt.domain, tt.path); got != tt.want {
			t.Errorf("isAuthRequest(%q, %q) = %v, want %v", tt.domain, tt.path, got, tt.want)
		}
	}
}

func TestIsEventStream(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	if !isEventStream(h) {
		t.Error("expected text/event-stream to be recognized as a stream")
	}
	h.Set("Content-Type", "application/json")
	if isEventStream(h) {
		t.Error("expected application/json to not be recognized as a stream")
	}
}

func TestRedactJSON_WalksStringLeavesSkipsStructuralFields(t *testing.T) {
	s := testServer(t, []string{"api.openai.com"})
	body := []byte(`{"model":"gpt-4","temperature":0.2,"messages":[{"role":"user","content":"John Smith's SSN is 123-45-6789."}]}`)

	redacted, tokenCount, model := s.redactJSON(t.Context(), body, "A1B2C3D4")
	if model != "gpt-4" {
		t.Errorf("expected model %q, got %q", "gpt-4", model)
	}
	if tokenCount == 0 {
		t.Fatal("expected at least one token minted")
	}
	out := string(redacted)
	if strings.Contains(out, "123-45-6789") {
		t.Errorf("expected SSN to be redacted out of the body, got %q", out)
	}
	if !strings.Contains(out, `"model":"gpt-4"`) {
		t.Errorf("expected the structural model field untouched, got %q", out)
	}
}

func TestRedactJSON_NonJSONBodyRedactedAsPlainText(t *testing.T) {
	s := testServer(t, []string{"api.openai.com"})
	body := []byte("SSN 123-45-6789 on file.")

	redacted, tokenCount, model := s.redactJSON(t.Context(), body, "A1B2C3D4")
	if model != "" {
		t.Errorf("expected no model for a non-JSON body, got %q", model)
	}
	if tokenCount == 0 {
		t.Fatal("expected at least one token minted")
	}
	if strings.Contains(string(redacted), "123-45-6789") {
		t.Errorf("expected the SSN to be redacted, got %q", redacted)
	}
}

func TestInjectFilterInstruction_AnthropicSystemString(t *testing.T) {
	s := testServer(t, []string{"api.anthropic.com"})
	body := []byte(`{"model":"claude-sonnet-4-6","system":"Be concise."}`)

	out := s.injectFilterInstruction(body, "claude-sonnet-4-6")
	if !strings.Contains(string(out), "Be concise.") || !strings.Contains(string(out), "PHI TOKENS") {
		t.Errorf("expected the original system prompt preserved with the instruction appended, got %q", out)
	}
}

func TestInjectFilterInstruction_OpenAIMessagesPrependsSystem(t *testing.T) {
	s := testServer(t, []string{"api.openai.com"})
	body := []byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)

	out := s.injectFilterInstruction(body, "gpt-4")
	if !strings.Contains(string(out), `"role":"system"`) {
		t.Errorf("expected a system message to be prepended, got %q", out)
	}
}

func TestInjectFilterInstruction_NoInstructionConfiguredIsNoop(t *testing.T) {
	s := testServer(t, []string{"api.openai.com"})
	s.cfg.FilterInstructions = nil
	body := []byte(`{"model":"unknown-model"}`)

	out := s.injectFilterInstruction(body, "unknown-model")
	// falls back to the "default" instruction key, which is absent too
	if string(out) != string(body) {
		t.Errorf("expected a no-op when no instruction resolves, got %q", out)
	}
}

func TestServeHTTP_LLMDomainRedactsRequestAndRestoresResponse(t *testing.T) {
	var receivedBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		receivedBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.Write(body) //nolint:errcheck
	}))
	defer upstream.Close()

	upstreamHost := strings.TrimPrefix(upstream.URL, "http://")
	domain := stripPort(upstreamHost)

	s := testServer(t, []string{domain})

	reqBody := `{"model":"gpt-4","messages":[{"role":"user","content":"John Smith's SSN is 123-45-6789."}]}`
	req := httptest.NewRequest(http.MethodPost, upstream.URL+"/v1/chat/completions", strings.NewReader(reqBody))
	req.Host = upstreamHost
	req.ContentLength = int64(len(reqBody))

	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if strings.Contains(receivedBody, "123-45-6789") {
		t.Errorf("expected the upstream to receive a redacted body, got %q", receivedBody)
	}
	if !strings.Contains(receivedBody, "{{SSN_") {
		t.Errorf("expected the upstream to receive an SSN token, got %q", receivedBody)
	}

	restored := w.Body.String()
	if !strings.Contains(restored, "123-45-6789") {
		t.Errorf("expected the client to receive the original SSN restored, got %q", restored)
	}
}

func TestServeHTTP_NonLLMDomainPassesThroughUnchanged(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Write(body) //nolint:errcheck
	}))
	defer upstream.Close()

	upstreamHost := strings.TrimPrefix(upstream.URL, "http://")
	s := testServer(t, []string{"api.openai.com"}) // upstream's own domain isn't in the allowlist

	reqBody := "SSN 123-45-6789 on file."
	req := httptest.NewRequest(http.MethodPost, upstream.URL+"/anything", strings.NewReader(reqBody))
	req.Host = upstreamHost
	req.ContentLength = int64(len(reqBody))

	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Body.String() != reqBody {
		t.Errorf("expected passthrough body unchanged, got %q want %q", w.Body.String(), reqBody)
	}
}
