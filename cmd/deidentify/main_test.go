package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clinacta/phi-deidentifier/internal/config"
	"github.com/clinacta/phi-deidentifier/internal/logger"
)

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	fn()

	w.Close() //nolint:errcheck
	os.Stdout = old

	var buf bytes.Buffer
	buf.ReadFrom(r) //nolint:errcheck
	return buf.String()
}

func TestPrintBanner_ContainsExpectedFields(t *testing.T) {
	cfg := &config.Config{
		GatewayPort:    8443,
		ManagementPort: 8444,
		DictionaryDir:  "testdata/dictionaries",
		PolicyFile:     "policy.json",
	}

	out := captureStdout(t, func() { printBanner(cfg) })

	for _, want := range []string{"8443", "8444", "testdata/dictionaries", "policy.json"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in banner output, got:\n%s", want, out)
		}
	}
}

func TestPrintBanner_UpstreamProxy_FromEnv(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "http://corporate:8888")

	cfg := &config.Config{GatewayPort: 8443, ManagementPort: 8444}
	out := captureStdout(t, func() { printBanner(cfg) })

	if !strings.Contains(out, "http://corporate:8888") {
		t.Errorf("expected upstream proxy in banner, got:\n%s", out)
	}
}

func TestPrintBanner_NoProxy_ShowsDirect(t *testing.T) {
	os.Unsetenv("HTTPS_PROXY") //nolint:errcheck
	os.Unsetenv("HTTP_PROXY")  //nolint:errcheck

	cfg := &config.Config{GatewayPort: 8443, ManagementPort: 8444}
	out := captureStdout(t, func() { printBanner(cfg) })

	if !strings.Contains(out, "direct") {
		t.Errorf("expected 'direct' in banner when no proxy set, got:\n%s", out)
	}
}

func TestLoadPolicyLoader_MissingFileReturnsNilLoaderNoError(t *testing.T) {
	cfg := &config.Config{PolicyFile: filepath.Join(t.TempDir(), "does-not-exist.json")}
	log := logger.New("TEST", "error")

	loader, err := loadPolicyLoader(cfg, log)
	if err != nil {
		t.Fatalf("expected no error for a missing policy file, got %v", err)
	}
	if loader != nil {
		t.Error("expected a nil loader when no policy file is configured")
	}
}

func TestLoadPolicyLoader_ValidFileReturnsLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	if err := os.WriteFile(path, []byte(`{"minConfidence":{},"tokenFormat":"braced"}`), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	cfg := &config.Config{PolicyFile: path}
	log := logger.New("TEST", "error")

	loader, err := loadPolicyLoader(cfg, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loader == nil {
		t.Fatal("expected a non-nil loader for a valid policy file")
	}
	if loader.Current() == nil {
		t.Error("expected the loader's current policy to be populated")
	}
}

func TestLoadPolicyLoader_InvalidFileReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	if err := os.WriteFile(path, []byte(`not json`), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	cfg := &config.Config{PolicyFile: path}
	log := logger.New("TEST", "error")

	if _, err := loadPolicyLoader(cfg, log); err == nil {
		t.Fatal("expected an error for an invalid policy file")
	}
}

// TestMain_Smoke verifies the package compiles and the binary entry point exists.
// The actual main() starts network listeners so it cannot be called in tests.
func TestMain_Smoke(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("printBanner panicked: %v", r)
		}
	}()
	captureStdout(t, func() { printBanner(&config.Config{}) })

	if fmt.Sprintf("%T", main) != "func()" {
		t.Error("expected main to be func()")
	}
}
