package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/ratelimit"
	"github.com/toolgate/toolgate/internal/rbac"
	"github.com/toolgate/toolgate/internal/reqctx"
	"github.com/toolgate/toolgate/internal/store"
	"github.com/toolgate/toolgate/internal/tenant"
	"github.com/toolgate/toolgate/internal/tools"
)

// fakeDirectory backs both the authenticator and the tenant extractor.
type fakeDirectory struct {
	keys          []store.APIKey
	users         map[uuid.UUID]*store.User
	firstOf       map[uuid.UUID]*store.User
	tenants       map[uuid.UUID]*store.Tenant
	scopedCalls   int
	releasedCalls int
}

func (f *fakeDirectory) ActiveAPIKeys(ctx context.Context, limit int) ([]store.APIKey, error) {
	if limit < len(f.keys) {
		return f.keys[:limit], nil
	}
	return f.keys, nil
}

func (f *fakeDirectory) FirstUserOfTenant(ctx context.Context, tenantID uuid.UUID) (*store.User, error) {
	u, ok := f.firstOf[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeDirectory) GetUser(ctx context.Context, id uuid.UUID) (*store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeDirectory) GetTenant(ctx context.Context, id uuid.UUID) (*store.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (f *fakeDirectory) AcquireTenantScope(ctx context.Context, tenantID uuid.UUID) (context.Context, func(), error) {
	f.scopedCalls++
	return ctx, func() { f.releasedCalls++ }, nil
}

// recordingSink captures emitted audit events for inspection.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingSink) Emit(ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) find(action, phase string) *audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.events {
		ev := &r.events[i]
		if ev.Action != action {
			continue
		}
		if phase != "" && ev.Details["phase"] != phase {
			continue
		}
		return ev
	}
	return nil
}

type headerMap map[string]string

func (h headerMap) Get(name string) string { return h[name] }

const testKey = "sk-test-0001"

// testPipeline wires an API-key-only pipeline with one echo tool.
func testPipeline(t *testing.T, perWindow int) (*Pipeline, *fakeDirectory, uuid.UUID, *recordingSink) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	tid := uuid.New()
	user := &store.User{ID: uuid.New(), TenantID: tid, Role: reqctx.RoleEndUser}
	hash, err := auth.HashKey(testKey)
	if err != nil {
		t.Fatal(err)
	}
	dir := &fakeDirectory{
		keys:    []store.APIKey{{ID: uuid.New(), TenantID: tid, KeyHash: hash, Active: true}},
		users:   map[uuid.UUID]*store.User{user.ID: user},
		firstOf: map[uuid.UUID]*store.User{tid: user},
		tenants: map[uuid.UUID]*store.Tenant{tid: {ID: tid, Name: "acme", SubscriptionTier: "pro"}},
	}

	cfg := config.Default()
	cfg.OAuth.Enabled = false
	cfg.RateLimit.PerWindow = perWindow

	registry := tools.NewRegistry()
	registry.MustRegister(tools.Definition{
		Name:        "echo",
		Description: "echo back the ambient identity",
		InputSchema: map[string]any{"type": "object"},
		Roles:       []reqctx.Role{reqctx.RoleEndUser},
	}, func(ctx context.Context, raw json.RawMessage) (any, error) {
		id := reqctx.From(ctx)
		if !id.Complete() {
			t.Error("handler ran without a complete identity")
		}
		return map[string]any{"tenant_id": id.TenantID.String()}, nil
	})
	registry.MustRegister(tools.Definition{
		Name:        "admin_only",
		Description: "requires tenant_admin",
		InputSchema: map[string]any{"type": "object"},
		Roles:       []reqctx.Role{reqctx.RoleTenantAdmin},
	}, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return map[string]any{"ok": true}, nil
	})
	registry.MustRegister(tools.Definition{
		Name:        "slow",
		Description: "always runs out of time",
		InputSchema: map[string]any{"type": "object"},
		Roles:       []reqctx.Role{reqctx.RoleEndUser},
	}, func(ctx context.Context, raw json.RawMessage) (any, error) {
		return nil, context.DeadlineExceeded
	})

	policy := rbac.NewPolicy(true)
	registry.BindPolicy(policy)

	sink := &recordingSink{}
	p := NewPipeline(
		auth.New(cfg, dir),
		tenant.NewExtractor(dir),
		policy,
		ratelimit.New(rdb, cfg.RateLimit),
		sink,
		registry,
		cfg.APIKey.HeaderName,
		true,
	)
	return p, dir, tid, sink
}

func TestDispatchHappyPath(t *testing.T) {
	p, dir, tid, _ := testPipeline(t, 100)

	res, decision, err := p.Dispatch(context.Background(),
		headerMap{"X-API-Key": testKey}, tools.CallRequest{Name: "echo"}, uuid.New())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if decision == nil || !decision.Allowed {
		t.Fatal("no admission decision on success")
	}
	if dir.scopedCalls != 1 {
		t.Errorf("tenant scope acquired %d times, want 1", dir.scopedCalls)
	}
	if dir.releasedCalls != 1 {
		t.Errorf("tenant scope released %d times, want 1", dir.releasedCalls)
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(res.Content[0].Text), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["tenant_id"] != tid.String() {
		t.Errorf("handler saw tenant %s, want %s", payload["tenant_id"], tid)
	}
}

func TestDispatchReleasesScopeOnHandlerError(t *testing.T) {
	p, dir, _, _ := testPipeline(t, 100)

	_, _, err := p.Dispatch(context.Background(),
		headerMap{"X-API-Key": testKey}, tools.CallRequest{Name: "slow"}, uuid.New())
	if err == nil {
		t.Fatal("expected handler error")
	}
	if dir.releasedCalls != 1 {
		t.Errorf("tenant scope released %d times, want 1", dir.releasedCalls)
	}
}

func TestDispatchRejectsBadCredentials(t *testing.T) {
	p, _, _, _ := testPipeline(t, 100)

	_, _, err := p.Dispatch(context.Background(),
		headerMap{"X-API-Key": "wrong"}, tools.CallRequest{Name: "echo"}, uuid.New())
	if !apperr.IsCode(err, apperr.CodeAuthentication) {
		t.Fatalf("bad key: got %v", err)
	}

	_, _, err = p.Dispatch(context.Background(),
		headerMap{}, tools.CallRequest{Name: "echo"}, uuid.New())
	if !apperr.IsCode(err, apperr.CodeAuthentication) {
		t.Fatalf("no credentials: got %v", err)
	}
}

func TestDispatchDeniesByRole(t *testing.T) {
	p, _, _, _ := testPipeline(t, 100)

	_, _, err := p.Dispatch(context.Background(),
		headerMap{"X-API-Key": testKey}, tools.CallRequest{Name: "admin_only"}, uuid.New())
	if !apperr.IsCode(err, apperr.CodeAuthorization) {
		t.Fatalf("role bypass: got %v", err)
	}

	// Unregistered tools are denied in strict mode, before any handler.
	_, _, err = p.Dispatch(context.Background(),
		headerMap{"X-API-Key": testKey}, tools.CallRequest{Name: "ghost_tool"}, uuid.New())
	if !apperr.IsCode(err, apperr.CodeAuthorization) {
		t.Fatalf("strict mode: got %v", err)
	}
}

func TestDispatchRateLimits(t *testing.T) {
	p, _, _, sink := testPipeline(t, 2)

	for i := 0; i < 2; i++ {
		if _, _, err := p.Dispatch(context.Background(),
			headerMap{"X-API-Key": testKey}, tools.CallRequest{Name: "echo"}, uuid.New()); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}

	_, decision, err := p.Dispatch(context.Background(),
		headerMap{"X-API-Key": testKey}, tools.CallRequest{Name: "echo"}, uuid.New())
	if !apperr.IsCode(err, apperr.CodeRateLimited) {
		t.Fatalf("over limit: got %v", err)
	}
	if decision == nil || decision.Allowed {
		t.Fatal("denial must carry the decision")
	}
	if decision.RetryAfter < 1 {
		t.Errorf("retry after = %d", decision.RetryAfter)
	}

	ev := sink.find("rate_limit_exceeded", "")
	if ev == nil {
		t.Fatal("no rate_limit_exceeded event")
	}
	if _, ok := ev.Details["retry_after"]; !ok {
		t.Error("rate_limit_exceeded event missing retry_after")
	}
}

func TestDispatchAuditsTimeoutAsCancelled(t *testing.T) {
	p, _, _, sink := testPipeline(t, 100)

	_, _, err := p.Dispatch(context.Background(),
		headerMap{"X-API-Key": testKey}, tools.CallRequest{Name: "slow"}, uuid.New())
	if err == nil {
		t.Fatal("expected handler error")
	}

	post := sink.find("slow", "post")
	if post == nil {
		t.Fatal("no post event for timed-out call")
	}
	if post.Details["reason"] != "cancelled" {
		t.Errorf("post reason = %v, want cancelled", post.Details["reason"])
	}
	if post.Success == nil || *post.Success {
		t.Error("timed-out call audited as success")
	}
}

func TestDispatchRejectsMembershipMismatch(t *testing.T) {
	p, dir, _, _ := testPipeline(t, 100)

	// Move the principal to a different tenant than the key claims.
	for _, u := range dir.users {
		u.TenantID = uuid.New()
	}

	_, _, err := p.Dispatch(context.Background(),
		headerMap{"X-API-Key": testKey}, tools.CallRequest{Name: "echo"}, uuid.New())
	if !apperr.IsCode(err, apperr.CodeTenantIsolation) {
		t.Fatalf("membership mismatch: got %v", err)
	}
}

func TestDispatchRejectsDeletedTenant(t *testing.T) {
	p, dir, tid, _ := testPipeline(t, 100)

	delete(dir.tenants, tid)

	_, _, err := p.Dispatch(context.Background(),
		headerMap{"X-API-Key": testKey}, tools.CallRequest{Name: "echo"}, uuid.New())
	if !apperr.IsCode(err, apperr.CodeTenantIsolation) {
		t.Fatalf("deleted tenant: got %v", err)
	}
	if dir.scopedCalls != 0 {
		t.Errorf("tenant scope acquired for a deleted tenant")
	}
}
