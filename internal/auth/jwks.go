package auth

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownKeyID is returned when a token's kid is absent from the key
// set even after a refresh.
var ErrUnknownKeyID = fmt.Errorf("key id not found in JWKS")

// KeyCache caches the identity provider's signing keys process-wide.
// Refreshes are lazy (on cache miss or TTL expiry) and single-flight:
// concurrent requests share one upstream fetch.
type KeyCache struct {
	mu        sync.RWMutex
	keys      map[string]crypto.PublicKey
	lastFetch time.Time

	jwksURI    string
	ttl        time.Duration
	httpClient *http.Client
	group      singleflight.Group
}

// NewKeyCache creates a key cache for the given JWKS URI.
func NewKeyCache(jwksURI string, ttl time.Duration) *KeyCache {
	return &KeyCache{
		keys:       make(map[string]crypto.PublicKey),
		jwksURI:    jwksURI,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Get resolves kid to a verification key. On a miss the key set is
// refetched exactly once for this attempt; a second miss fails.
func (c *KeyCache) Get(ctx context.Context, kid string) (crypto.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	fresh := time.Since(c.lastFetch) < c.ttl
	c.mu.RUnlock()

	if ok && fresh {
		return key, nil
	}

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	c.mu.RLock()
	key, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyID, kid)
	}
	return key, nil
}

// refresh fetches and replaces the key set. Concurrent callers share a
// single upstream request through the singleflight group.
func (c *KeyCache) refresh(ctx context.Context) error {
	_, err, _ := c.group.Do("jwks", func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURI, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("JWKS request failed with status %d", resp.StatusCode)
		}

		var jwks struct {
			Keys []jwkEntry `json:"keys"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
			return nil, fmt.Errorf("failed to decode JWKS: %w", err)
		}

		parsed := make(map[string]crypto.PublicKey, len(jwks.Keys))
		for _, entry := range jwks.Keys {
			key, err := entry.publicKey()
			if err != nil {
				log.Warn().Err(err).Str("kid", entry.Kid).Msg("skipping unparsable JWKS entry")
				continue
			}
			parsed[entry.Kid] = key
		}

		c.mu.Lock()
		c.keys = parsed
		c.lastFetch = time.Now()
		c.mu.Unlock()

		log.Debug().Int("key_count", len(parsed)).Msg("JWKS refreshed")
		return nil, nil
	})
	return err
}

type jwkEntry struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	Crv string `json:"crv"`
	N   string `json:"n"`
	E   string `json:"e"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (e jwkEntry) publicKey() (crypto.PublicKey, error) {
	if e.Use != "" && e.Use != "sig" {
		return nil, fmt.Errorf("key %s is not a signing key", e.Kid)
	}
	switch e.Kty {
	case "RSA":
		return parseRSAPublicKey(e.N, e.E)
	case "EC":
		return parseECPublicKey(e.Crv, e.X, e.Y)
	}
	return nil, fmt.Errorf("unsupported key type %q", e.Kty)
}

// parseRSAPublicKey parses an RSA public key from JWKS n and e values.
func parseRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode n: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode e: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)

	var e int
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}

	return &rsa.PublicKey{N: n, E: e}, nil
}

// parseECPublicKey parses a P-256 public key from JWKS x and y values.
func parseECPublicKey(crv, xStr, yStr string) (*ecdsa.PublicKey, error) {
	if crv != "P-256" {
		return nil, fmt.Errorf("unsupported curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x: %w", err)
	}

	yBytes, err := base64.RawURLEncoding.DecodeString(yStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode y: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
