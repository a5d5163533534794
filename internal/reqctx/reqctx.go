// Package reqctx carries the per-request security identity.
//
// It is a leaf package: both the middleware pipeline and the services
// import it, so it must not import either. The identity is set exactly
// once, by the pipeline after tenant validation, and is immutable for
// the lifetime of the request.
package reqctx

import (
	"context"

	"github.com/google/uuid"
)

// Role is the authorization role bound to a request.
type Role string

const (
	RoleUberAdmin    Role = "uber_admin"
	RoleTenantAdmin  Role = "tenant_admin"
	RoleProjectAdmin Role = "project_admin"
	RoleEndUser      Role = "end_user"
)

// ParseRole maps a claim value to a known role, defaulting to end_user.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleUberAdmin, RoleTenantAdmin, RoleProjectAdmin, RoleEndUser:
		return Role(s)
	}
	return RoleEndUser
}

// AuthMethod records how the request was authenticated.
type AuthMethod string

const (
	AuthOAuthBearer  AuthMethod = "oauth_bearer"
	AuthOpaqueAPIKey AuthMethod = "opaque_api_key"
	AuthNone         AuthMethod = "none"
)

// Identity is the immutable per-request record of who is calling.
type Identity struct {
	TenantID   uuid.UUID
	UserID     uuid.UUID
	Role       Role
	AuthMethod AuthMethod
}

// Complete reports whether all four fields are populated.
func (id Identity) Complete() bool {
	return id.TenantID != uuid.Nil && id.UserID != uuid.Nil && id.Role != "" && id.AuthMethod != ""
}

type ctxKey struct{}

// WithIdentity returns a context carrying the given identity.
// Callers outside the middleware pipeline should only use this in tests.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// From returns the identity stored in ctx, or a zero Identity when the
// context is not bound to an active request.
func From(ctx context.Context) Identity {
	if id, ok := ctx.Value(ctxKey{}).(Identity); ok {
		return id
	}
	return Identity{}
}

// TenantID returns the ambient tenant id, or uuid.Nil outside a request.
func TenantID(ctx context.Context) uuid.UUID { return From(ctx).TenantID }

// UserID returns the ambient user id, or uuid.Nil outside a request.
func UserID(ctx context.Context) uuid.UUID { return From(ctx).UserID }

// RoleOf returns the ambient role, or the empty role outside a request.
func RoleOf(ctx context.Context) Role { return From(ctx).Role }

// Method returns the ambient auth method, or the empty method outside a request.
func Method(ctx context.Context) AuthMethod { return From(ctx).AuthMethod }
