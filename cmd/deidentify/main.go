// Command deidentify runs the PHI de-identification gateway: it intercepts
// outbound HTTP/HTTPS requests to configured LLM and EHR domains, strips
// Safe-Harbor-covered PHI out of request bodies before they leave the
// network, and restores it in the matching responses before they reach the
// caller.
//
// Authentication and OAuth endpoints always pass through unchanged.
//
// Upstream proxy chaining (e.g. a corporate proxy) is automatic: Go's
// net/http reads HTTP_PROXY / HTTPS_PROXY / NO_PROXY from the environment.
// No extra configuration is required — set those env vars before starting
// this process.
//
// Usage:
//
//	# Direct internet access
//	./deidentify
//
//	# Behind a corporate proxy
//	HTTPS_PROXY=http://corporate-proxy:8888 ./deidentify
//
//	# Custom ports
//	GATEWAY_PORT=3128 MANAGEMENT_PORT=3129 ./deidentify
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinacta/phi-deidentifier/internal/config"
	"github.com/clinacta/phi-deidentifier/internal/dictionary"
	"github.com/clinacta/phi-deidentifier/internal/engine"
	"github.com/clinacta/phi-deidentifier/internal/gateway"
	"github.com/clinacta/phi-deidentifier/internal/logger"
	"github.com/clinacta/phi-deidentifier/internal/management"
	"github.com/clinacta/phi-deidentifier/internal/metrics"
	"github.com/clinacta/phi-deidentifier/internal/mitm"
	"github.com/clinacta/phi-deidentifier/internal/policy"
)

func main() {
	cfg := config.Load()
	log := logger.New("MAIN", cfg.LogLevel)

	printBanner(cfg)

	m := metrics.New()
	dict := dictionary.Load(cfg.DictionaryDir, logger.New("DICTIONARY", cfg.LogLevel))
	if cfg.PhoneticCacheFile != "" {
		cache, err := dictionary.NewBboltCache(cfg.PhoneticCacheFile, logger.New("DICTIONARY", cfg.LogLevel))
		if err != nil {
			log.Warnf("startup", "phonetic cache unavailable, using in-memory cache: %v", err)
			cache = dictionary.NewMemoryCache()
		}
		dict.SetCache(cache)
	} else {
		dict.SetCache(dictionary.NewMemoryCache())
	}
	eng := engine.New(dict, m, logger.New("ENGINE", cfg.LogLevel))

	polLoader, err := loadPolicyLoader(cfg, log)
	if err != nil {
		log.Fatalf("startup", "policy load failed: %v", err)
	}

	ca, err := mitm.LoadOrGenerateCA(cfg.CACertFile, cfg.CAKeyFile)
	if err != nil {
		log.Fatalf("startup", "CA load/generate failed: %v", err)
	}
	ca.SetLogger(logger.New("MITM", cfg.LogLevel))
	ca.SetMetrics(m)

	// Build the management domain registry so both servers share the same
	// state. Runtime domain changes are persisted to llm-domains.json and
	// restored on restart.
	registry := management.NewDomainRegistry(cfg, "llm-domains.json")

	mgmt := management.New(cfg, registry, m, polLoader, eng)
	go func() {
		if err := mgmt.ListenAndServe(); err != nil {
			log.Fatalf("management", "fatal: %v", err)
		}
	}()

	gw := gateway.New(cfg, eng, polLoader, ca, m, logger.New("GATEWAY", cfg.LogLevel))

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.GatewayPort)
	log.Infof("gateway", "listening on %s", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           gw,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Infof("gateway", "shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Errorf("gateway", "shutdown error: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("gateway", "fatal: %v", err)
	}
}

// loadPolicyLoader builds a reloadable policy.Loader over cfg.PolicyFile if
// that file exists, so the management API's /policy/reload has something to
// act on. A missing policy file is not an error: the gateway and engine both
// tolerate a nil *policy.Loader by falling back to policy.Default() on every
// request.
func loadPolicyLoader(cfg *config.Config, log *logger.Logger) (*policy.Loader, error) {
	if _, err := os.Stat(cfg.PolicyFile); err != nil {
		log.Infof("startup", "no policy file at %s, using defaults", cfg.PolicyFile)
		return nil, nil
	}
	loader, err := policy.NewLoader(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	log.Infof("startup", "loaded policy from %s", cfg.PolicyFile)
	return loader, nil
}

func printBanner(cfg *config.Config) {
	upstreamProxy := os.Getenv("HTTPS_PROXY")
	if upstreamProxy == "" {
		upstreamProxy = os.Getenv("HTTP_PROXY")
	}
	if upstreamProxy == "" {
		upstreamProxy = "(direct — set HTTP_PROXY or HTTPS_PROXY to chain upstream)"
	}

	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          PHI De-identification Gateway  (Go)         ║
╚══════════════════════════════════════════════════════╝
  Gateway port    : %d
  Management port : %d
  Upstream proxy  : %s
  Dictionary dir  : %s
  Policy file     : %s

  Point clients here:
    export HTTP_PROXY=http://localhost:%d
    export HTTPS_PROXY=http://localhost:%d

  Check status:
    curl http://localhost:%d/status
`, cfg.GatewayPort, cfg.ManagementPort,
		upstreamProxy,
		cfg.DictionaryDir, cfg.PolicyFile,
		cfg.GatewayPort, cfg.GatewayPort,
		cfg.ManagementPort)
}
