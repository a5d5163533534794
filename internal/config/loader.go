package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Load builds the configuration from environment variables on top of
// the defaults. Validation is deferred so callers can apply flag
// overrides first.
func Load() *Config {
	cfg := Default()
	applyEnvironmentOverrides(cfg)
	return cfg
}

func applyEnvironmentOverrides(cfg *Config) {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setBool(&cfg.DevMode, "DEV_MODE")

	// OAuth
	setBool(&cfg.OAuth.Enabled, "OAUTH_ENABLED")
	setString(&cfg.OAuth.Issuer, "OAUTH_ISSUER")
	setString(&cfg.OAuth.JWKSURI, "OAUTH_JWKS_URI")
	setString(&cfg.OAuth.Audience, "OAUTH_AUDIENCE")
	setString(&cfg.OAuth.UserIDClaim, "OAUTH_USER_ID_CLAIM")
	setString(&cfg.OAuth.TenantIDClaim, "OAUTH_TENANT_ID_CLAIM")
	setString(&cfg.OAuth.RoleClaim, "OAUTH_ROLE_CLAIM")
	setString(&cfg.OAuth.UserinfoEndpoint, "OAUTH_USERINFO_ENDPOINT")
	setString(&cfg.OAuth.TokenEndpoint, "OAUTH_TOKEN_ENDPOINT")
	setString(&cfg.OAuth.ClientID, "OAUTH_CLIENT_ID")
	setString(&cfg.OAuth.ClientSecret, "OAUTH_CLIENT_SECRET")
	setSeconds(&cfg.OAuth.JWKSCacheTTL, "OAUTH_JWKS_CACHE_TTL_S")
	setMillis(&cfg.OAuth.AuthBudget, "OAUTH_AUTH_TIMEOUT_MS")
	if algs := os.Getenv("OAUTH_ALGORITHMS"); algs != "" {
		cfg.OAuth.Algorithms = splitTrim(algs)
	}

	// Opaque API keys
	setBool(&cfg.APIKey.Enabled, "API_KEY_ENABLED")
	setString(&cfg.APIKey.HeaderName, "API_KEY_HEADER")
	setInt(&cfg.APIKey.ScanCap, "API_KEY_SCAN_CAP")

	// Rate limiting
	setBool(&cfg.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	setInt(&cfg.RateLimit.PerWindow, "RATE_LIMIT_PER_MINUTE")
	setInt(&cfg.RateLimit.WindowSeconds, "RATE_LIMIT_WINDOW_SECONDS")

	// RBAC
	setBool(&cfg.RBAC.Enabled, "RBAC_ENABLED")
	setString(&cfg.RBAC.DefaultRole, "RBAC_DEFAULT_ROLE")
	setBool(&cfg.RBAC.StrictMode, "RBAC_STRICT_MODE")

	// Audit
	setBool(&cfg.Audit.Enabled, "AUDIT_ENABLED")
	setInt(&cfg.Audit.RetentionDays, "AUDIT_RETENTION_DAYS")

	// Redis
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setSeconds(&cfg.Redis.DialTimeout, "REDIS_DIAL_TIMEOUT_S")
	setSeconds(&cfg.Redis.CommandTimeout, "REDIS_COMMAND_TIMEOUT_S")

	// Memory service
	setString(&cfg.Memory.URL, "MEMORY_SERVICE_URL")
	setString(&cfg.Memory.APIKey, "MEMORY_SERVICE_API_KEY")
	setMillis(&cfg.Memory.Timeout, "MEMORY_SERVICE_TIMEOUT_MS")
	setBool(&cfg.Memory.FallbackToRedis, "MEMORY_FALLBACK_TO_REDIS")
	setSeconds(&cfg.Memory.ProbeInterval, "MEMORY_PROBE_INTERVAL_S")

	// Postgres
	setString(&cfg.Postgres.URL, "DATABASE_URL")
	setInt(&cfg.Postgres.MaxConns, "PG_MAX_CONNS")
	setInt(&cfg.Postgres.MinConns, "PG_MIN_CONNS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	switch os.Getenv(key) {
	case "true", "1":
		*dst = true
	case "false", "0":
		*dst = false
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setSeconds(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func setMillis(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
