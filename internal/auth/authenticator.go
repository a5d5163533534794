// Package auth produces the pre-tenant authenticated identity from
// inbound request headers. Two paths are supported: OAuth bearer tokens
// verified against a cached JWKS, and opaque API keys verified with a
// two-stage hash over a bounded candidate scan.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/reqctx"
)

// Result is the authenticated identity before tenant validation.
type Result struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     reqctx.Role
	Method   reqctx.AuthMethod
}

// Headers is the minimal header view the authenticator consumes; the
// transport adapter supplies it.
type Headers interface {
	Get(name string) string
}

// Authenticator tries OAuth first, then falls back to the opaque-key
// path when the bearer token fails or is absent. Each path can be
// disabled independently through configuration.
type Authenticator struct {
	oauth  *bearerVerifier
	apikey *keyVerifier
	budget time.Duration
}

// New builds an authenticator from the enabled paths. users may be nil
// when the API key path is disabled.
func New(cfg *config.Config, users userSource) *Authenticator {
	a := &Authenticator{budget: cfg.OAuth.AuthBudget}
	if cfg.OAuth.Enabled {
		a.oauth = newBearerVerifier(cfg.OAuth)
	}
	if cfg.APIKey.Enabled {
		a.apikey = newKeyVerifier(cfg.APIKey, users)
	}
	return a
}

// Authenticate resolves the caller identity from headers. Bearer tokens
// win when both credentials are present; a failed bearer token falls
// through to the opaque-key path (the token may itself be an opaque key
// sent in the Authorization header).
func (a *Authenticator) Authenticate(ctx context.Context, h Headers, apiKeyHeader string) (*Result, error) {
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed > a.budget {
			log.Warn().Dur("elapsed", elapsed).Dur("budget", a.budget).Msg("authentication exceeded budget")
		}
	}()

	bearer := bearerToken(h.Get("Authorization"))
	opaque := h.Get(apiKeyHeader)

	if bearer == "" && opaque == "" {
		return nil, apperr.Authentication("no credentials presented")
	}

	var bearerErr error
	if bearer != "" && a.oauth != nil {
		res, err := a.oauth.Verify(ctx, bearer)
		if err == nil {
			return res, nil
		}
		bearerErr = err
	}

	// Opaque path: explicit header first, then the Authorization value
	// itself when OAuth is disabled or rejected the token.
	if a.apikey != nil {
		candidate := opaque
		if candidate == "" && bearer != "" {
			candidate = bearer
		}
		if candidate != "" {
			res, err := a.apikey.Verify(ctx, candidate)
			if err == nil {
				return res, nil
			}
			if bearerErr == nil {
				bearerErr = err
			}
		}
	}

	if bearerErr != nil {
		return nil, bearerErr
	}
	return nil, apperr.Authentication("authentication not configured for presented credentials")
}

func bearerToken(header string) string {
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
