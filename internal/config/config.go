// Package config loads and holds all service-level configuration for the
// de-identification engine's outer collaborators (gateway, management API,
// CLI). Settings are layered: defaults → deidentify-config.json →
// environment variables (env vars win), exactly as the teacher's proxy
// config loader was structured. The policy document governing detection
// itself (enabled filters, confidence cutoffs, token format) is a separate
// concern handled by internal/policy.
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/clinacta/phi-deidentifier/internal/logger"
)

// Config holds service-level configuration: listen ports, TLS material for
// the gateway's MITM termination, dictionary/cache file paths, and the
// domain allowlists the gateway intercepts.
type Config struct {
	GatewayPort    int    `json:"gatewayPort"`
	ManagementPort int    `json:"managementPort"`
	LogLevel       string `json:"logLevel"`

	PolicyFile        string `json:"policyFile"`
	DictionaryDir      string `json:"dictionaryDir"`
	PhoneticCacheFile string `json:"phoneticCacheFile"` // bbolt persistent cache; empty = in-memory only

	CACertFile      string `json:"caCertFile"`
	CAKeyFile       string `json:"caKeyFile"`
	BindAddress     string `json:"bindAddress"`
	ManagementToken string `json:"managementToken"`
	UpstreamProxy   string `json:"upstreamProxy"`

	// LLMDomains are the downstream clinical-note consumers the gateway
	// intercepts and redacts bodies for (spec.md §6a's "AIAPIDomains"-style
	// allowlist, renamed to the new domain).
	LLMDomains  []string `json:"llmDomains"`
	AuthDomains []string `json:"authDomains"`
	AuthPaths   []string `json:"authPaths"`

	// FilterInstructions maps an LLM family prefix (e.g. "claude", "gpt") to
	// the system instruction injected when PHI tokens are present in a
	// forwarded request, asking the model to echo tokens verbatim instead
	// of hallucinating replacement values. Lookup is prefix-based; the
	// special key "default" is used when no prefix matches.
	FilterInstructions map[string]string `json:"filterInstructions"`
}

// Load returns config with defaults overridden by deidentify-config.json and env vars.
func Load() *Config {
	cfg := defaults()
	loadFile(cfg, "deidentify-config.json")
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		GatewayPort:       8443,
		ManagementPort:    8444,
		LogLevel:          "info",
		PolicyFile:        "policy.json",
		DictionaryDir:     "testdata/dictionaries",
		PhoneticCacheFile: "phonetic-cache.db",
		CACertFile:        "ca-cert.pem",
		CAKeyFile:         "ca-key.pem",
		BindAddress:       "127.0.0.1",
		LLMDomains: []string{
			"api.anthropic.com",
			"api.openai.com",
			"api.cohere.ai",
			"generativelanguage.googleapis.com",
			"api.mistral.ai",
		},
		AuthDomains: []string{
			"accounts.google.com",
			"login.microsoftonline.com",
			"auth0.com",
			"okta.com",
		},
		AuthPaths: []string{
			"/auth", "/login", "/signin", "/signup", "/register",
			"/token", "/oauth", "/authenticate", "/session",
			"/v1/auth", "/api/auth", "/api/login", "/api/token",
		},
		FilterInstructions: map[string]string{
			"claude": "PHI TOKENS: This request contains de-identification placeholders" +
				" such as {{SSN_A1B2C3D4_1}}. You MUST reproduce every such token EXACTLY as" +
				" written in your response. Do NOT replace them with example values, names, or" +
				" any other substitute. Treat these tokens as opaque identifiers that must pass" +
				" through unchanged.",
			"gpt": "PHI TOKENS: This request contains de-identification placeholders" +
				" such as {{SSN_A1B2C3D4_1}}. Reproduce every such token verbatim in your" +
				" response. Do not substitute them with example values.",
			"default": "PHI TOKENS: This request contains de-identification placeholders." +
				" Reproduce every such token verbatim in your response.",
		},
	}
}

// ResolveFilterInstruction returns the PHI system instruction for the given
// model string using prefix matching. "claude-sonnet-4-6" matches key
// "claude". Falls back to the "default" key, then to an empty string if
// neither exists.
func (c *Config) ResolveFilterInstruction(model string) string {
	for key, instruction := range c.FilterInstructions {
		if key == "default" {
			continue
		}
		if len(model) >= len(key) && model[:len(key)] == key {
			return instruction
		}
	}
	if fallback, ok := c.FilterInstructions["default"]; ok {
		return fallback
	}
	return ""
}

var fileLog = logger.New("CONFIG", "info")

func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // G703: path is a controlled config file path, not user input
	if err != nil {
		return // file is optional
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		fileLog.Warnf("load", "could not parse %s: %v", path, err)
	} else {
		fileLog.Infof("load", "loaded %s", path)
	}
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GatewayPort = n
		}
	}
	if v := os.Getenv("MANAGEMENT_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ManagementPort = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("POLICY_FILE"); v != "" {
		cfg.PolicyFile = v
	}
	if v := os.Getenv("DICTIONARY_DIR"); v != "" {
		cfg.DictionaryDir = v
	}
	if v := os.Getenv("PHONETIC_CACHE_FILE"); v != "" {
		cfg.PhoneticCacheFile = v
	}
	if v := os.Getenv("CA_CERT_FILE"); v != "" {
		cfg.CACertFile = v
	}
	if v := os.Getenv("CA_KEY_FILE"); v != "" {
		cfg.CAKeyFile = v
	}
	if v := os.Getenv("BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("MANAGEMENT_TOKEN"); v != "" {
		cfg.ManagementToken = v
	}
	if v := os.Getenv("UPSTREAM_PROXY"); v != "" {
		cfg.UpstreamProxy = v
	}
}
