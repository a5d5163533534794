package rbac

import (
	"testing"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/reqctx"
)

func TestAuthorize(t *testing.T) {
	p := NewPolicy(true)
	p.Grant("mem0_add_memory", reqctx.RoleEndUser, reqctx.RoleTenantAdmin)
	p.Grant("rag_cleanup_sessions", reqctx.RoleTenantAdmin)

	tests := []struct {
		role    reqctx.Role
		tool    string
		allowed bool
	}{
		{reqctx.RoleEndUser, "mem0_add_memory", true},
		{reqctx.RoleTenantAdmin, "mem0_add_memory", true},
		{reqctx.RoleEndUser, "rag_cleanup_sessions", false},
		{reqctx.RoleProjectAdmin, "mem0_add_memory", false},
		// Uber admin passes everything, including unknown tools.
		{reqctx.RoleUberAdmin, "rag_cleanup_sessions", true},
		{reqctx.RoleUberAdmin, "never_registered", true},
	}
	for _, tc := range tests {
		err := p.Authorize(tc.role, tc.tool)
		if tc.allowed && err != nil {
			t.Errorf("(%s, %s): unexpected denial: %v", tc.role, tc.tool, err)
		}
		if !tc.allowed {
			if !apperr.IsCode(err, apperr.CodeAuthorization) {
				t.Errorf("(%s, %s): got %v, want authorization error", tc.role, tc.tool, err)
			}
		}
	}
}

func TestStrictModeUnknownTool(t *testing.T) {
	strict := NewPolicy(true)
	if err := strict.Authorize(reqctx.RoleEndUser, "mystery_tool"); err == nil {
		t.Fatal("strict mode admitted unknown tool")
	}

	lax := NewPolicy(false)
	if err := lax.Authorize(reqctx.RoleEndUser, "mystery_tool"); err != nil {
		t.Fatalf("non-strict mode denied unknown tool: %v", err)
	}
}

func TestKnown(t *testing.T) {
	p := NewPolicy(true)
	p.Grant("doc_search", reqctx.RoleEndUser)
	if !p.Known("doc_search") {
		t.Error("registered tool reported unknown")
	}
	if p.Known("absent") {
		t.Error("absent tool reported known")
	}
}
