// Package rbac permits or denies tool invocations from a static
// role-policy matrix. The check is pure and in-memory; row-level access
// rules belong to the individual tools.
package rbac

import (
	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/reqctx"
)

// Policy maps each declared tool name to the set of roles allowed to
// invoke it. Permissions are explicit: there is no role inheritance.
type Policy struct {
	allowed    map[string]map[reqctx.Role]bool
	strictMode bool
}

// NewPolicy builds an empty policy. With strict mode on (the default),
// tools absent from the matrix are denied to everyone but uber admins.
func NewPolicy(strictMode bool) *Policy {
	return &Policy{
		allowed:    make(map[string]map[reqctx.Role]bool),
		strictMode: strictMode,
	}
}

// Grant allows the given roles to invoke the named tool.
func (p *Policy) Grant(tool string, roles ...reqctx.Role) {
	set, ok := p.allowed[tool]
	if !ok {
		set = make(map[reqctx.Role]bool, len(roles))
		p.allowed[tool] = set
	}
	for _, r := range roles {
		set[r] = true
	}
}

// Authorize checks (role, tool). Uber admins have implicit access to
// every tool.
func (p *Policy) Authorize(role reqctx.Role, tool string) error {
	if role == reqctx.RoleUberAdmin {
		return nil
	}

	set, known := p.allowed[tool]
	if !known {
		if p.strictMode {
			return apperr.Authorization("tool not in policy matrix: " + tool)
		}
		return nil
	}
	if !set[role] {
		return apperr.Authorization("role " + string(role) + " may not invoke " + tool)
	}
	return nil
}

// Known reports whether the tool appears in the matrix.
func (p *Policy) Known(tool string) bool {
	_, ok := p.allowed[tool]
	return ok
}
