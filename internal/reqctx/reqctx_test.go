package reqctx

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestFromOutsideRequest(t *testing.T) {
	id := From(context.Background())
	if id.TenantID != uuid.Nil || id.UserID != uuid.Nil || id.Role != "" || id.AuthMethod != "" {
		t.Fatalf("expected zero identity, got %+v", id)
	}
	if id.Complete() {
		t.Fatal("zero identity must not be complete")
	}
}

func TestRoundTrip(t *testing.T) {
	want := Identity{
		TenantID:   uuid.New(),
		UserID:     uuid.New(),
		Role:       RoleTenantAdmin,
		AuthMethod: AuthOpaqueAPIKey,
	}
	ctx := WithIdentity(context.Background(), want)

	if got := From(ctx); got != want {
		t.Fatalf("From = %+v, want %+v", got, want)
	}
	if TenantID(ctx) != want.TenantID {
		t.Error("TenantID mismatch")
	}
	if UserID(ctx) != want.UserID {
		t.Error("UserID mismatch")
	}
	if RoleOf(ctx) != RoleTenantAdmin {
		t.Error("RoleOf mismatch")
	}
	if Method(ctx) != AuthOpaqueAPIKey {
		t.Error("Method mismatch")
	}
	if !want.Complete() {
		t.Error("populated identity should be complete")
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"uber_admin", RoleUberAdmin},
		{"tenant_admin", RoleTenantAdmin},
		{"project_admin", RoleProjectAdmin},
		{"end_user", RoleEndUser},
		{"", RoleEndUser},
		{"superuser", RoleEndUser},
	}
	for _, tc := range tests {
		if got := ParseRole(tc.in); got != tc.want {
			t.Errorf("ParseRole(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
