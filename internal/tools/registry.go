package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/rbac"
)

// Registry holds tool definitions and dispatches calls. Registration
// order is preserved so tools/list is stable.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*entry
	ordering []string
}

type entry struct {
	def     Definition
	handler Handler
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*entry)}
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(def Definition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %s already registered", def.Name)
	}
	r.tools[def.Name] = &entry{def: def, handler: handler}
	r.ordering = append(r.ordering, def.Name)
	return nil
}

// MustRegister registers or panics, for startup-time wiring.
func (r *Registry) MustRegister(def Definition, handler Handler) {
	if err := r.Register(def, handler); err != nil {
		panic(err)
	}
}

// BindPolicy grants each registered tool's roles in the policy matrix.
func (r *Registry) BindPolicy(p *rbac.Policy) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.ordering {
		p.Grant(name, r.tools[name].def.Roles...)
	}
}

// List returns descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.ordering))
	for _, name := range r.ordering {
		e := r.tools[name]
		out = append(out, Descriptor{
			Name:        e.def.Name,
			Description: e.def.Description,
			InputSchema: e.def.InputSchema,
		})
	}
	return out
}

// Call dispatches one invocation and wraps the result in content-block
// form.
func (r *Registry) Call(ctx context.Context, req CallRequest) (*CallResult, error) {
	r.mu.RLock()
	e, exists := r.tools[req.Name]
	r.mu.RUnlock()

	if !exists {
		return nil, apperr.NotFound("tool not found: " + req.Name)
	}

	result, err := e.handler(ctx, req.Arguments)
	if err != nil {
		return nil, err
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize tool result: %w", err)
	}
	return &CallResult{
		Content: []ContentBlock{{Type: "text", Text: string(resultJSON)}},
	}, nil
}

// Get retrieves a definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.tools[name]
	if !exists {
		return nil, false
	}
	return &e.def, true
}
