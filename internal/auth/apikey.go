package auth

import (
	"context"
	"crypto/sha256"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/reqctx"
	"github.com/toolgate/toolgate/internal/store"
)

// keyVerifier authenticates opaque API keys with the two-stage scheme:
// SHA-256 first to normalize the input length (bcrypt caps its input at
// 72 bytes), then a constant-time bcrypt comparison against each stored
// hash within the bounded candidate scan.
type keyVerifier struct {
	cfg   config.APIKeyConfig
	users userSource
}

// userSource is the slice of the relational store the key path needs.
type userSource interface {
	ActiveAPIKeys(ctx context.Context, limit int) ([]store.APIKey, error)
	FirstUserOfTenant(ctx context.Context, tenantID uuid.UUID) (*store.User, error)
}

func newKeyVerifier(cfg config.APIKeyConfig, users userSource) *keyVerifier {
	return &keyVerifier{cfg: cfg, users: users}
}

// HashKey derives the stored hash for a new cleartext key. Exposed so
// the key-provisioning tools share the exact derivation.
func HashKey(cleartext string) ([]byte, error) {
	digest := sha256.Sum256([]byte(cleartext))
	return bcrypt.GenerateFromPassword(digest[:], bcrypt.DefaultCost)
}

// Verify checks the cleartext against at most ScanCap active records
// and resolves the first user of the matching key's tenant as the
// principal.
func (v *keyVerifier) Verify(ctx context.Context, cleartext string) (*Result, error) {
	digest := sha256.Sum256([]byte(cleartext))

	candidates, err := v.users.ActiveAPIKeys(ctx, v.cfg.ScanCap)
	if err != nil {
		return nil, err
	}

	var matched *store.APIKey
	for i := range candidates {
		if bcrypt.CompareHashAndPassword(candidates[i].KeyHash, digest[:]) == nil {
			matched = &candidates[i]
			break
		}
	}
	if matched == nil {
		return nil, apperr.Authentication("api key not recognized").WithDetail("reason", "key_not_found")
	}

	if matched.ExpiresAt != nil && matched.ExpiresAt.Before(time.Now()) {
		return nil, apperr.Authentication("api key expired").WithDetail("reason", "key_expired")
	}

	user, err := v.users.FirstUserOfTenant(ctx, matched.TenantID)
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", matched.TenantID.String()).Msg("no user resolvable for api key")
		return nil, apperr.Authentication("no user associated with api key").WithDetail("reason", "user_not_resolvable")
	}

	return &Result{
		UserID:   user.ID,
		TenantID: matched.TenantID,
		Role:     user.Role,
		Method:   reqctx.AuthOpaqueAPIKey,
	}, nil
}
