// Package keys builds and validates the tenant-scoped key shapes used
// for every datum the gateway writes to an external store. The exact
// strings are the contract: any change breaks data already persisted.
package keys

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/reqctx"
)

// Cache returns the general cache key for a tenant-scoped resource.
// Shape: tenant:{tid}:cache:{resource_type}:{resource_id}
func Cache(tenantID uuid.UUID, resourceType, resourceID string) string {
	return fmt.Sprintf("tenant:%s:cache:%s:%s", tenantID, resourceType, resourceID)
}

// Session returns the session-context key.
// Shape: tenant:{tid}:user:{uid}:session:{session_id}
func Session(tenantID, userID uuid.UUID, sessionID string) string {
	return fmt.Sprintf("tenant:%s:user:%s:session:%s", tenantID, userID, sessionID)
}

// UserSessionPattern matches every session key of one user.
func UserSessionPattern(tenantID, userID uuid.UUID) string {
	return fmt.Sprintf("tenant:%s:user:%s:session:*", tenantID, userID)
}

// SessionPattern matches every session key of one tenant.
func SessionPattern(tenantID uuid.UUID) string {
	return fmt.Sprintf("tenant:%s:user:*:session:*", tenantID)
}

// RateBucket returns the sliding-window sorted-set key.
// Shape: tenant:{tid}:rate_limit:{identifier}
func RateBucket(tenantID uuid.UUID, identifier string) string {
	return fmt.Sprintf("tenant:%s:rate_limit:%s", tenantID, identifier)
}

// UserMemory returns the fallback memory record key.
// Shape: tenant:{tid}:user:{uid}:memory:{memory_id}
func UserMemory(tenantID, userID uuid.UUID, memoryID string) string {
	return fmt.Sprintf("tenant:%s:user:%s:memory:%s", tenantID, userID, memoryID)
}

// UserMemoryPattern matches every fallback memory record of one user.
func UserMemoryPattern(tenantID, userID uuid.UUID) string {
	return fmt.Sprintf("tenant:%s:user:%s:memory:*", tenantID, userID)
}

// WriteQueue returns the per-tenant memory write-queue list key.
func WriteQueue(tenantID uuid.UUID) string {
	return fmt.Sprintf("tenant:%s:mem0_write_queue", tenantID)
}

// Recognition returns the user-recognition snapshot cache key.
func Recognition(tenantID, userID uuid.UUID) string {
	return fmt.Sprintf("tenant:%s:user:%s:user_recognition:memory:%s", tenantID, userID, userID)
}

// ObjectBucket returns the per-tenant object storage bucket name.
func ObjectBucket(tenantID uuid.UUID) string {
	return fmt.Sprintf("tenant-%s", tenantID)
}

// VectorIndex returns the per-tenant vector index name.
func VectorIndex(tenantID uuid.UUID) string {
	return fmt.Sprintf("tenant_%s", tenantID)
}

// TextIndex returns the per-tenant text index name.
func TextIndex(tenantID uuid.UUID) string {
	return fmt.Sprintf("tenant-%s", tenantID)
}

// TenantOf extracts the tenant id from a colon-delimited key, or
// uuid.Nil when the key carries no tenant prefix.
func TenantOf(key string) uuid.UUID {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 || parts[0] != "tenant" {
		return uuid.Nil
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Validate confirms the key's tenant prefix matches the ambient tenant.
// Uber admins may cross tenants; everyone else gets a tenant isolation
// error. Every read-back from an external store pipes through here.
func Validate(ctx context.Context, key string) error {
	id := reqctx.From(ctx)
	if id.Role == reqctx.RoleUberAdmin {
		return nil
	}
	if id.TenantID == uuid.Nil {
		return apperr.TenantIsolation("no tenant in request context")
	}
	owner := TenantOf(key)
	if owner == uuid.Nil {
		return apperr.TenantIsolation("key has no tenant prefix: " + key)
	}
	if owner != id.TenantID {
		return apperr.TenantIsolation("cross-tenant key access denied")
	}
	return nil
}
