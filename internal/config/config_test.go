package config

import (
	"errors"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.APIKey.HeaderName != "X-API-Key" {
		t.Errorf("api key header = %q", cfg.APIKey.HeaderName)
	}
	if cfg.APIKey.ScanCap != 100 {
		t.Errorf("scan cap = %d, want 100", cfg.APIKey.ScanCap)
	}
	if cfg.RateLimit.PerWindow != 1000 || cfg.RateLimit.WindowSeconds != 60 {
		t.Errorf("rate defaults = %d/%ds", cfg.RateLimit.PerWindow, cfg.RateLimit.WindowSeconds)
	}
	if !cfg.RBAC.StrictMode {
		t.Error("strict mode should default on")
	}
	if cfg.OAuth.JWKSCacheTTL != time.Hour {
		t.Errorf("jwks ttl = %v", cfg.OAuth.JWKSCacheTTL)
	}
	if cfg.Memory.FallbackTTL != 24*time.Hour {
		t.Errorf("fallback ttl = %v", cfg.Memory.FallbackTTL)
	}
	if cfg.Memory.ProbeInterval != 30*time.Second {
		t.Errorf("probe interval = %v", cfg.Memory.ProbeInterval)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.OAuth.Issuer = "https://issuer.example.com"
		cfg.OAuth.JWKSURI = "https://issuer.example.com/jwks"
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := base()
	cfg.OAuth.Issuer = ""
	if err := cfg.Validate(); !errors.Is(err, ErrMissingIssuer) {
		t.Errorf("missing issuer: got %v", err)
	}

	cfg = base()
	cfg.OAuth.JWKSURI = ""
	if err := cfg.Validate(); !errors.Is(err, ErrMissingJWKSURI) {
		t.Errorf("missing jwks uri: got %v", err)
	}

	cfg = base()
	cfg.OAuth.Enabled = false
	cfg.APIKey.Enabled = false
	if err := cfg.Validate(); !errors.Is(err, ErrNoAuthMethod) {
		t.Errorf("no auth method: got %v", err)
	}

	cfg = base()
	cfg.OAuth.Algorithms = []string{"HS256"}
	if err := cfg.Validate(); !errors.Is(err, ErrBadAlgorithm) {
		t.Errorf("symmetric algorithm accepted: got %v", err)
	}

	cfg = base()
	cfg.Memory.URL = ""
	cfg.Memory.FallbackToRedis = false
	if err := cfg.Validate(); !errors.Is(err, ErrMissingMemoryURL) {
		t.Errorf("no memory backend: got %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "25")
	t.Setenv("OAUTH_ALGORITHMS", "RS256, ES256")
	t.Setenv("API_KEY_SCAN_CAP", "50")
	t.Setenv("MEMORY_SERVICE_TIMEOUT_MS", "250")
	t.Setenv("RBAC_STRICT_MODE", "false")

	cfg := Load()
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("http addr = %q", cfg.HTTPAddr)
	}
	if cfg.RateLimit.PerWindow != 25 {
		t.Errorf("per window = %d", cfg.RateLimit.PerWindow)
	}
	if len(cfg.OAuth.Algorithms) != 2 || cfg.OAuth.Algorithms[1] != "ES256" {
		t.Errorf("algorithms = %v", cfg.OAuth.Algorithms)
	}
	if cfg.APIKey.ScanCap != 50 {
		t.Errorf("scan cap = %d", cfg.APIKey.ScanCap)
	}
	if cfg.Memory.Timeout != 250*time.Millisecond {
		t.Errorf("memory timeout = %v", cfg.Memory.Timeout)
	}
	if cfg.RBAC.StrictMode {
		t.Error("strict mode override ignored")
	}
}
