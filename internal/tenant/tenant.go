// Package tenant validates that an authenticated identity belongs to
// the tenant it claims, and establishes the tenant scope for the rest
// of the request: the ambient reqctx identity plus the pinned
// relational connection that row-level policies read.
package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/reqctx"
	"github.com/toolgate/toolgate/internal/store"
)

// membershipSource is the slice of the relational store the extractor
// needs.
type membershipSource interface {
	GetUser(ctx context.Context, id uuid.UUID) (*store.User, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*store.Tenant, error)
	AcquireTenantScope(ctx context.Context, tenantID uuid.UUID) (context.Context, func(), error)
}

// Extractor publishes the full request identity after membership
// validation.
type Extractor struct {
	users membershipSource
}

func NewExtractor(users membershipSource) *Extractor {
	return &Extractor{users: users}
}

// Extract validates the authenticated identity's tenant claim and
// returns a context carrying the complete identity plus a release func
// for the relational tenant scope. The release func is non-nil on
// success and must be called when the request finishes. Uber admins
// skip the membership check and the relational scoping.
func (e *Extractor) Extract(ctx context.Context, res *auth.Result) (context.Context, func(), error) {
	if res.TenantID == uuid.Nil || res.UserID == uuid.Nil {
		return ctx, nil, apperr.TenantIsolation("tenant cannot be resolved from identity")
	}

	release := func() {}
	if res.Role != reqctx.RoleUberAdmin {
		if _, err := e.users.GetTenant(ctx, res.TenantID); errors.Is(err, store.ErrNotFound) {
			return ctx, nil, apperr.TenantValidation("tenant not found or deleted")
		} else if err != nil {
			return ctx, nil, err
		}

		user, err := e.users.GetUser(ctx, res.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return ctx, nil, apperr.TenantValidation("user not found")
		}
		if err != nil {
			return ctx, nil, err
		}
		if user.TenantID != res.TenantID {
			log.Warn().
				Str("user_id", res.UserID.String()).
				Str("claimed_tenant", res.TenantID.String()).
				Msg("tenant membership mismatch")
			return ctx, nil, apperr.TenantValidation("user does not belong to claimed tenant")
		}

		ctx, release, err = e.users.AcquireTenantScope(ctx, res.TenantID)
		if err != nil {
			return ctx, nil, err
		}
	}

	id := reqctx.Identity{
		TenantID:   res.TenantID,
		UserID:     res.UserID,
		Role:       res.Role,
		AuthMethod: res.Method,
	}
	return reqctx.WithIdentity(ctx, id), release, nil
}
