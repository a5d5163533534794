// Package config holds the gateway configuration, loaded from the
// environment with defaults and validated before startup.
package config

import (
	"errors"
	"time"
)

var (
	ErrMissingIssuer    = errors.New("oauth enabled but issuer is empty")
	ErrMissingJWKSURI   = errors.New("oauth enabled but jwks uri is empty")
	ErrMissingMemoryURL = errors.New("memory service url is empty")
	ErrNoAuthMethod     = errors.New("both oauth and api-key authentication are disabled")
	ErrBadAlgorithm     = errors.New("oauth algorithms must be a subset of {RS256, ES256}")
)

// Config is the root configuration for the gateway.
type Config struct {
	HTTPAddr  string
	DevMode   bool // enables X-Debug-Sub style shortcuts in logs only
	LogLevel  string
	OAuth     OAuthConfig
	APIKey    APIKeyConfig
	RateLimit RateLimitConfig
	RBAC      RBACConfig
	Audit     AuditConfig
	Redis     RedisConfig
	Memory    MemoryConfig
	Postgres  PostgresConfig
}

// OAuthConfig configures the bearer-token authentication path.
type OAuthConfig struct {
	Enabled          bool
	Issuer           string
	JWKSURI          string
	Audience         string
	Algorithms       []string // subset of {RS256, ES256}
	UserIDClaim      string   // default "sub"
	TenantIDClaim    string   // default "tenant_id"
	RoleClaim        string   // default "role"
	UserinfoEndpoint string
	TokenEndpoint    string
	ClientID         string
	ClientSecret     string
	JWKSCacheTTL     time.Duration // default 1h
	AuthBudget       time.Duration // default 50ms, warn threshold
}

// APIKeyConfig configures the opaque-key authentication path.
type APIKeyConfig struct {
	Enabled    bool
	HeaderName string // default X-API-Key
	ScanCap    int    // default 100 candidate records
}

// RateLimitConfig configures the per-tenant sliding window.
type RateLimitConfig struct {
	Enabled       bool
	PerWindow     int // default 1000
	WindowSeconds int // default 60
}

// RBACConfig configures the role-policy authorizer.
type RBACConfig struct {
	Enabled     bool
	DefaultRole string // default end_user
	StrictMode  bool   // unknown tools denied, default true
}

// AuditConfig configures the audit sink.
type AuditConfig struct {
	Enabled       bool
	RetentionDays int // default 365, enforced by the relational store
}

// RedisConfig configures the key-value store connection.
type RedisConfig struct {
	Addr           string
	PoolSize       int           // default 10
	DialTimeout    time.Duration // default 10s
	CommandTimeout time.Duration // default 5s
}

// MemoryConfig configures the primary remote memory service.
type MemoryConfig struct {
	URL             string
	APIKey          string
	Timeout         time.Duration // degrade when exceeded, default 500ms
	FallbackToRedis bool
	FallbackTTL     time.Duration // default 24h
	ProbeInterval   time.Duration // default 30s while degraded
}

// PostgresConfig configures the relational store connection.
type PostgresConfig struct {
	URL      string
	MaxConns int // default 20
	MinConns int // default 2
}

// Default returns a configuration with the documented defaults applied.
func Default() *Config {
	return &Config{
		HTTPAddr: ":8080",
		LogLevel: "info",
		OAuth: OAuthConfig{
			Enabled:       true,
			Algorithms:    []string{"RS256", "ES256"},
			UserIDClaim:   "sub",
			TenantIDClaim: "tenant_id",
			RoleClaim:     "role",
			JWKSCacheTTL:  time.Hour,
			AuthBudget:    50 * time.Millisecond,
		},
		APIKey: APIKeyConfig{
			Enabled:    true,
			HeaderName: "X-API-Key",
			ScanCap:    100,
		},
		RateLimit: RateLimitConfig{
			Enabled:       true,
			PerWindow:     1000,
			WindowSeconds: 60,
		},
		RBAC: RBACConfig{
			Enabled:     true,
			DefaultRole: "end_user",
			StrictMode:  true,
		},
		Audit: AuditConfig{
			Enabled:       true,
			RetentionDays: 365,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       10,
			DialTimeout:    10 * time.Second,
			CommandTimeout: 5 * time.Second,
		},
		Memory: MemoryConfig{
			Timeout:         500 * time.Millisecond,
			FallbackToRedis: true,
			FallbackTTL:     24 * time.Hour,
			ProbeInterval:   30 * time.Second,
		},
		Postgres: PostgresConfig{
			MaxConns: 20,
			MinConns: 2,
		},
	}
}

// Validate checks cross-field constraints that the env loader cannot.
func (c *Config) Validate() error {
	if !c.OAuth.Enabled && !c.APIKey.Enabled {
		return ErrNoAuthMethod
	}
	if c.OAuth.Enabled {
		if c.OAuth.Issuer == "" {
			return ErrMissingIssuer
		}
		if c.OAuth.JWKSURI == "" {
			return ErrMissingJWKSURI
		}
		for _, alg := range c.OAuth.Algorithms {
			if alg != "RS256" && alg != "ES256" {
				return ErrBadAlgorithm
			}
		}
	}
	if c.Memory.URL == "" && !c.Memory.FallbackToRedis {
		return ErrMissingMemoryURL
	}
	return nil
}
