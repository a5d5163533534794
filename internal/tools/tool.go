// Package tools declares the gateway's tool surface: definitions,
// parameter validation, the dispatch registry and the handlers that
// bind tools to the memory, session, ranking and recognition services.
package tools

import (
	"context"
	"encoding/json"

	"github.com/toolgate/toolgate/internal/reqctx"
)

// Definition describes one callable tool, including the roles allowed
// to invoke it (consumed by the policy matrix at registration time).
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
	Roles       []reqctx.Role  `json:"-"`
}

// Handler executes one tool invocation. The caller's identity travels
// in ctx.
type Handler func(ctx context.Context, raw json.RawMessage) (any, error)

// Descriptor is the tools/list wire form.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// CallRequest is a tools/call payload.
type CallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallResult wraps a successful invocation in content-block form.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one piece of tool output.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}
