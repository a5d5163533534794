package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/reqctx"
)

// bearerVerifier validates OAuth bearer tokens against the cached JWKS
// and extracts the identity claims, falling back to the userinfo
// endpoint when a required claim is absent from the token.
type bearerVerifier struct {
	cfg        config.OAuthConfig
	keyCache   *KeyCache
	httpClient *http.Client
}

func newBearerVerifier(cfg config.OAuthConfig) *bearerVerifier {
	return &bearerVerifier{
		cfg:        cfg,
		keyCache:   NewKeyCache(cfg.JWKSURI, cfg.JWKSCacheTTL),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Verify validates the token and returns the authenticated identity
// (tenant membership is checked later by the tenant extractor).
func (v *bearerVerifier) Verify(ctx context.Context, tokenString string) (*Result, error) {
	// Unverified parse just to read the kid from the header.
	unverified, _, err := new(jwt.Parser).ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, apperr.Authentication("malformed token").WithDetail("reason", "parse_failed")
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, apperr.Authentication("token header missing kid").WithDetail("reason", "unknown_kid")
	}

	key, err := v.keyCache.Get(ctx, kid)
	if err != nil {
		return nil, apperr.Authentication("unknown signing key").WithDetail("reason", "unknown_kid")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.cfg.Algorithms),
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil || !token.Valid {
		reason := "invalid_signature"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "expired"
		}
		log.Warn().Err(err).Msg("bearer token validation failed")
		return nil, apperr.Authentication("token validation failed").WithDetail("reason", reason)
	}

	userRaw := stringClaim(claims, v.cfg.UserIDClaim)
	tenantRaw := stringClaim(claims, v.cfg.TenantIDClaim)
	roleRaw := stringClaim(claims, v.cfg.RoleClaim)

	// Fill gaps from the userinfo endpoint when configured.
	if (userRaw == "" || tenantRaw == "" || roleRaw == "") && v.cfg.UserinfoEndpoint != "" {
		profile, err := v.fetchUserinfo(ctx, tokenString)
		if err != nil {
			log.Warn().Err(err).Msg("userinfo fetch failed")
		} else {
			if userRaw == "" {
				userRaw = stringClaim(profile, v.cfg.UserIDClaim)
			}
			if tenantRaw == "" {
				tenantRaw = stringClaim(profile, v.cfg.TenantIDClaim)
			}
			if roleRaw == "" {
				roleRaw = stringClaim(profile, v.cfg.RoleClaim)
			}
		}
	}

	if userRaw == "" || tenantRaw == "" {
		return nil, apperr.Authentication("required claim missing").WithDetail("reason", "claim_missing")
	}

	userID, err := uuid.Parse(userRaw)
	if err != nil {
		return nil, apperr.Authentication("malformed user id claim").WithDetail("reason", "claim_missing")
	}
	tenantID, err := uuid.Parse(tenantRaw)
	if err != nil {
		return nil, apperr.Authentication("malformed tenant id claim").WithDetail("reason", "claim_missing")
	}

	return &Result{
		UserID:   userID,
		TenantID: tenantID,
		Role:     reqctx.ParseRole(roleRaw),
		Method:   reqctx.AuthOAuthBearer,
	}, nil
}

// fetchUserinfo fetches the identity profile carrying the bearer token.
func (v *bearerVerifier) fetchUserinfo(ctx context.Context, tokenString string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.UserinfoEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tokenString)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	var profile map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func stringClaim(m map[string]any, name string) string {
	if v, ok := m[name].(string); ok {
		return v
	}
	return ""
}

