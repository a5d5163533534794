// Package store provides the relational lookups the request plane
// depends on: users, API key records and tenants. Row-level tenant
// policies live in the database; this package only issues the
// parameterized queries the pipeline needs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/toolgate/toolgate/internal/reqctx"
)

var ErrNotFound = errors.New("record not found")

// User is the relational user record. A user belongs to exactly one
// tenant.
type User struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Role     reqctx.Role
	Email    string
}

// APIKey is a stored opaque-key record. KeyHash is the bcrypt hash of
// the SHA-256 digest of the cleartext; the cleartext itself is never
// stored.
type APIKey struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	KeyHash   []byte
	ExpiresAt *time.Time
	Active    bool
}

// Tenant is the relational tenant record. Soft deletion is honored by
// every lookup.
type Tenant struct {
	ID               uuid.UUID
	Name             string
	SubscriptionTier string
	DeletedAt        *time.Time
}

// Store wraps the pgx pool with the typed queries the core consumes.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// querier is satisfied by both the pool and a pinned connection.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scopedConnKey struct{}

// q routes a query over the request's pinned connection when one is
// established, otherwise over the shared pool.
func (s *Store) q(ctx context.Context) querier {
	if conn, ok := ctx.Value(scopedConnKey{}).(*pgxpool.Conn); ok {
		return conn
	}
	return s.pool
}

// AcquireTenantScope pins one pooled connection for the request and
// applies the tenant setting that row-level policies read, so every
// query issued through the returned context sees only the tenant's
// rows. The release func clears the setting before the connection goes
// back to the pool; the scope can never leak into another request.
func (s *Store) AcquireTenantScope(ctx context.Context, tenantID uuid.UUID) (context.Context, func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return ctx, nil, err
	}
	if _, err := conn.Exec(ctx,
		`SELECT set_config('app.current_tenant', $1, false)`, tenantID.String()); err != nil {
		conn.Release()
		return ctx, nil, err
	}

	release := func() {
		if _, err := conn.Exec(context.Background(), `RESET app.current_tenant`); err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("failed to reset tenant scope")
		}
		conn.Release()
	}
	return context.WithValue(ctx, scopedConnKey{}, conn), release, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	err := s.q(ctx).QueryRow(ctx,
		`SELECT id, tenant_id, role, email FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.TenantID, &u.Role, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FirstUserOfTenant returns the earliest-created user of a tenant. The
// opaque-key path resolves its principal through this lookup.
func (s *Store) FirstUserOfTenant(ctx context.Context, tenantID uuid.UUID) (*User, error) {
	var u User
	err := s.q(ctx).QueryRow(ctx,
		`SELECT id, tenant_id, role, email FROM users
		 WHERE tenant_id = $1 ORDER BY created_at ASC LIMIT 1`, tenantID,
	).Scan(&u.ID, &u.TenantID, &u.Role, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ActiveAPIKeys returns at most limit active, non-expired key records.
// The bounded scan keeps bcrypt verification cost predictable.
func (s *Store) ActiveAPIKeys(ctx context.Context, limit int) ([]APIKey, error) {
	rows, err := s.q(ctx).Query(ctx,
		`SELECT id, tenant_id, key_hash, expires_at, active FROM api_keys
		 WHERE active = true AND (expires_at IS NULL OR expires_at > now())
		 ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []APIKey
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.KeyHash, &k.ExpiresAt, &k.Active); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// GetTenant fetches a tenant by id, excluding soft-deleted rows.
func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	var t Tenant
	err := s.q(ctx).QueryRow(ctx,
		`SELECT id, name, subscription_tier, deleted_at FROM tenants
		 WHERE id = $1 AND deleted_at IS NULL`, id,
	).Scan(&t.ID, &t.Name, &t.SubscriptionTier, &t.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// PersonalizationEnabled reports whether the tenant has the
// context-aware ranking feature switched on.
func (s *Store) PersonalizationEnabled(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	var enabled bool
	err := s.q(ctx).QueryRow(ctx,
		`SELECT coalesce(personalization_enabled, false) FROM tenants
		 WHERE id = $1 AND deleted_at IS NULL`, tenantID,
	).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return enabled, err
}
