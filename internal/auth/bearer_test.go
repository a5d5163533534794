package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/reqctx"
)

const testIssuer = "https://idp.test"

type idp struct {
	key    *rsa.PrivateKey
	kid    string
	server *httptest.Server
	hits   int
}

func newIDP(t *testing.T) *idp {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	p := &idp{key: key, kid: "test-key-1"}

	mux := http.NewServeMux()
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		p.hits++
		pub := key.Public().(*rsa.PublicKey)
		json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{
				"kid": p.kid,
				"kty": "RSA",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *idp) token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["iss"]; !ok {
		claims["iss"] = testIssuer
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = p.kid
	signed, err := tok.SignedString(p.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func oauthCfg(p *idp) config.OAuthConfig {
	return config.OAuthConfig{
		Enabled:       true,
		Issuer:        testIssuer,
		JWKSURI:       p.server.URL + "/jwks",
		Algorithms:    []string{"RS256", "ES256"},
		UserIDClaim:   "sub",
		TenantIDClaim: "tenant_id",
		RoleClaim:     "role",
		JWKSCacheTTL:  time.Hour,
		AuthBudget:    50 * time.Millisecond,
	}
}

func TestVerifyValidToken(t *testing.T) {
	p := newIDP(t)
	v := newBearerVerifier(oauthCfg(p))

	uid, tid := uuid.New(), uuid.New()
	tok := p.token(t, jwt.MapClaims{
		"sub":       uid.String(),
		"tenant_id": tid.String(),
		"role":      "tenant_admin",
	})

	res, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.UserID != uid || res.TenantID != tid {
		t.Errorf("identity = %+v", res)
	}
	if res.Role != reqctx.RoleTenantAdmin {
		t.Errorf("role = %s", res.Role)
	}
	if res.Method != reqctx.AuthOAuthBearer {
		t.Errorf("method = %s", res.Method)
	}
}

func TestVerifyFailureReasons(t *testing.T) {
	p := newIDP(t)
	v := newBearerVerifier(oauthCfg(p))
	uid, tid := uuid.New(), uuid.New()

	otherKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	forged := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": testIssuer, "exp": time.Now().Add(time.Hour).Unix(),
		"sub": uid.String(), "tenant_id": tid.String(),
	})
	forged.Header["kid"] = p.kid
	forgedStr, _ := forged.SignedString(otherKey)

	tests := []struct {
		name   string
		token  string
		reason string
	}{
		{"garbage", "not.a.jwt", "parse_failed"},
		{"expired", p.token(t, jwt.MapClaims{
			"sub": uid.String(), "tenant_id": tid.String(),
			"exp": time.Now().Add(-time.Hour).Unix(),
		}), "expired"},
		{"wrong signer", forgedStr, "invalid_signature"},
		{"missing tenant claim", p.token(t, jwt.MapClaims{"sub": uid.String()}), "claim_missing"},
		{"malformed uuid claim", p.token(t, jwt.MapClaims{
			"sub": "not-a-uuid", "tenant_id": tid.String(),
		}), "claim_missing"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tc.token)
			if !apperr.IsCode(err, apperr.CodeAuthentication) {
				t.Fatalf("got %v, want authentication error", err)
			}
			var ae *apperr.Error
			if !asAppErr(err, &ae) || ae.Details["reason"] != tc.reason {
				t.Fatalf("reason = %v, want %s", ae.Details["reason"], tc.reason)
			}
		})
	}
}

func TestUnknownKidTriggersSingleRefresh(t *testing.T) {
	p := newIDP(t)
	v := newBearerVerifier(oauthCfg(p))
	uid, tid := uuid.New(), uuid.New()

	// Warm the cache, then rotate the kid out from under it.
	tok := p.token(t, jwt.MapClaims{"sub": uid.String(), "tenant_id": tid.String()})
	if _, err := v.Verify(context.Background(), tok); err != nil {
		t.Fatalf("warm: %v", err)
	}
	hitsBefore := p.hits

	ghost := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": testIssuer, "exp": time.Now().Add(time.Hour).Unix(),
		"sub": uid.String(), "tenant_id": tid.String(),
	})
	ghost.Header["kid"] = "rotated-away"
	ghostStr, _ := ghost.SignedString(p.key)

	_, err := v.Verify(context.Background(), ghostStr)
	if !apperr.IsCode(err, apperr.CodeAuthentication) {
		t.Fatalf("unknown kid: got %v", err)
	}
	if p.hits != hitsBefore+1 {
		t.Fatalf("jwks fetched %d times for one miss, want 1", p.hits-hitsBefore)
	}
}

func TestUserinfoFallbackFillsClaims(t *testing.T) {
	p := newIDP(t)
	uid, tid := uuid.New(), uuid.New()

	userinfo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"tenant_id": tid.String(),
			"role":      "project_admin",
		})
	}))
	t.Cleanup(userinfo.Close)

	cfg := oauthCfg(p)
	cfg.UserinfoEndpoint = userinfo.URL
	v := newBearerVerifier(cfg)

	// Token carries only sub; the rest comes from userinfo.
	tok := p.token(t, jwt.MapClaims{"sub": uid.String()})
	res, err := v.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.TenantID != tid {
		t.Errorf("tenant from userinfo = %s, want %s", res.TenantID, tid)
	}
	if res.Role != reqctx.RoleProjectAdmin {
		t.Errorf("role = %s", res.Role)
	}
}

func asAppErr(err error, target **apperr.Error) bool {
	if ae, ok := err.(*apperr.Error); ok {
		*target = ae
		return true
	}
	return false
}
