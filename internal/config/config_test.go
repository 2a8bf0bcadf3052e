package config

import (
	"encoding/json"
	"os"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.GatewayPort != 8443 {
		t.Errorf("GatewayPort: got %d, want 8443", cfg.GatewayPort)
	}
	if cfg.ManagementPort != 8444 {
		t.Errorf("ManagementPort: got %d, want 8444", cfg.ManagementPort)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
	if cfg.PolicyFile != "policy.json" {
		t.Errorf("PolicyFile: got %s", cfg.PolicyFile)
	}
	if cfg.DictionaryDir == "" {
		t.Error("DictionaryDir should not be empty")
	}
	if cfg.CACertFile != "ca-cert.pem" {
		t.Errorf("CACertFile: got %s", cfg.CACertFile)
	}
	if cfg.CAKeyFile != "ca-key.pem" {
		t.Errorf("CAKeyFile: got %s", cfg.CAKeyFile)
	}
	if cfg.BindAddress != "127.0.0.1" {
		t.Errorf("BindAddress: got %s", cfg.BindAddress)
	}
	if len(cfg.LLMDomains) == 0 {
		t.Error("LLMDomains should not be empty")
	}
	if len(cfg.AuthDomains) == 0 {
		t.Error("AuthDomains should not be empty")
	}
	if len(cfg.AuthPaths) == 0 {
		t.Error("AuthPaths should not be empty")
	}
}

func TestResolveFilterInstruction_PrefixMatch(t *testing.T) {
	cfg := defaults()
	got := cfg.ResolveFilterInstruction("claude-sonnet-4-6")
	if got != cfg.FilterInstructions["claude"] {
		t.Error("expected prefix match on 'claude'")
	}
}

func TestResolveFilterInstruction_FallsBackToDefault(t *testing.T) {
	cfg := defaults()
	got := cfg.ResolveFilterInstruction("some-unknown-model")
	if got != cfg.FilterInstructions["default"] {
		t.Error("expected fallback to 'default'")
	}
}

func TestLoadEnv_GatewayPort(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "9090")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.GatewayPort != 9090 {
		t.Errorf("GatewayPort: got %d, want 9090", cfg.GatewayPort)
	}
}

func TestLoadEnv_ManagementPort(t *testing.T) {
	t.Setenv("MANAGEMENT_PORT", "9091")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.ManagementPort != 9091 {
		t.Errorf("ManagementPort: got %d, want 9091", cfg.ManagementPort)
	}
}

func TestLoadEnv_PolicyFile(t *testing.T) {
	t.Setenv("POLICY_FILE", "/etc/deidentify/policy.json")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.PolicyFile != "/etc/deidentify/policy.json" {
		t.Errorf("PolicyFile: got %s", cfg.PolicyFile)
	}
}

func TestLoadEnv_DictionaryDir(t *testing.T) {
	t.Setenv("DICTIONARY_DIR", "/opt/dicts")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.DictionaryDir != "/opt/dicts" {
		t.Errorf("DictionaryDir: got %s", cfg.DictionaryDir)
	}
}

func TestLoadEnv_LogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
}

func TestLoadEnv_CACertFile(t *testing.T) {
	t.Setenv("CA_CERT_FILE", "/etc/ssl/my-ca.crt")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.CACertFile != "/etc/ssl/my-ca.crt" {
		t.Errorf("CACertFile: got %s", cfg.CACertFile)
	}
}

func TestLoadEnv_CAKeyFile(t *testing.T) {
	t.Setenv("CA_KEY_FILE", "/etc/ssl/my-ca.key")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.CAKeyFile != "/etc/ssl/my-ca.key" {
		t.Errorf("CAKeyFile: got %s", cfg.CAKeyFile)
	}
}

func TestLoadEnv_BindAddress(t *testing.T) {
	t.Setenv("BIND_ADDRESS", "0.0.0.0")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.BindAddress != "0.0.0.0" {
		t.Errorf("BindAddress: got %s", cfg.BindAddress)
	}
}

func TestLoadEnv_ManagementToken(t *testing.T) {
	t.Setenv("MANAGEMENT_TOKEN", "secret-token")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.ManagementToken != "secret-token" {
		t.Errorf("ManagementToken: got %s", cfg.ManagementToken)
	}
}

func TestLoadEnv_InvalidPort_Ignored(t *testing.T) {
	t.Setenv("GATEWAY_PORT", "not-a-number")
	cfg := defaults()
	loadEnv(cfg)
	if cfg.GatewayPort != 8443 {
		t.Errorf("GatewayPort: got %d, want 8443 (invalid env should be ignored)", cfg.GatewayPort)
	}
}

func TestLoadFile_ValidJSON(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	if err != nil {
		t.Fatal(err)
	}

	data, marshalErr := json.Marshal(map[string]any{
		"gatewayPort": 9999,
		"policyFile":  "custom-policy.json",
		"logLevel":    "warn",
	})
	if marshalErr != nil {
		t.Fatal(marshalErr)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, f.Name())

	if cfg.GatewayPort != 9999 {
		t.Errorf("GatewayPort: got %d, want 9999", cfg.GatewayPort)
	}
	if cfg.PolicyFile != "custom-policy.json" {
		t.Errorf("PolicyFile: got %s", cfg.PolicyFile)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel: got %s", cfg.LogLevel)
	}
}

func TestLoadFile_Missing_IsNoOp(t *testing.T) {
	cfg := defaults()
	loadFile(cfg, "/nonexistent/path/config.json")
	if cfg.GatewayPort != 8443 {
		t.Errorf("GatewayPort changed unexpectedly: %d", cfg.GatewayPort)
	}
}

func TestLoadFile_InvalidJSON_PreservesDefaults(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-bad-*.json")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{this is not json}"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	cfg := defaults()
	loadFile(cfg, f.Name())
	if cfg.GatewayPort != 8443 {
		t.Errorf("GatewayPort changed on bad JSON: %d", cfg.GatewayPort)
	}
}

func TestLoad_ReturnsNonNil(t *testing.T) {
	cfg := Load()
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}
	if cfg.GatewayPort <= 0 {
		t.Errorf("GatewayPort should be positive, got %d", cfg.GatewayPort)
	}
}
