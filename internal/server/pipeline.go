// Package server dispatches tool calls through the security pipeline
// and exposes the JSON-RPC HTTP surface.
package server

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/ratelimit"
	"github.com/toolgate/toolgate/internal/rbac"
	"github.com/toolgate/toolgate/internal/reqctx"
	"github.com/toolgate/toolgate/internal/tenant"
	"github.com/toolgate/toolgate/internal/tools"
)

// auditSink is the slice of the audit layer the pipeline emits to.
type auditSink interface {
	Emit(ev audit.Event)
}

// Pipeline runs every tool call through the fixed middleware order:
// authenticate, extract tenant, authorize, rate limit, audit before and
// after the handler. No stage may be skipped or reordered; a failure at
// any stage short-circuits the rest.
type Pipeline struct {
	auth     *auth.Authenticator
	tenants  *tenant.Extractor
	policy   *rbac.Policy
	limiter  *ratelimit.Limiter
	sink     auditSink
	registry *tools.Registry

	apiKeyHeader string
	rbacEnabled  bool
}

func NewPipeline(
	authn *auth.Authenticator,
	tenants *tenant.Extractor,
	policy *rbac.Policy,
	limiter *ratelimit.Limiter,
	sink auditSink,
	registry *tools.Registry,
	apiKeyHeader string,
	rbacEnabled bool,
) *Pipeline {
	return &Pipeline{
		auth:         authn,
		tenants:      tenants,
		policy:       policy,
		limiter:      limiter,
		sink:         sink,
		registry:     registry,
		apiKeyHeader: apiKeyHeader,
		rbacEnabled:  rbacEnabled,
	}
}

// Dispatch executes one tool call. The returned rate-limit decision is
// non-nil whenever the request got far enough to be counted, so the
// transport can attach the X-RateLimit headers either way.
func (p *Pipeline) Dispatch(ctx context.Context, h auth.Headers, req tools.CallRequest, requestID uuid.UUID) (*tools.CallResult, *ratelimit.Decision, error) {
	// Stage 1: authenticate. Every attempt, pass or fail, is audited.
	res, err := p.auth.Authenticate(ctx, h, p.apiKeyHeader)
	if err != nil {
		p.sink.Emit(audit.Event{
			RequestID:    requestID,
			Action:       "auth_failure",
			ResourceType: "auth",
			Details:      map[string]any{"tool": req.Name},
			Success:      audit.Bool(false),
		})
		return nil, nil, err
	}
	p.sink.Emit(audit.Event{
		RequestID:    requestID,
		TenantID:     res.TenantID,
		UserID:       res.UserID,
		Action:       "auth_success",
		ResourceType: "auth",
		Details:      map[string]any{"method": string(res.Method)},
		Success:      audit.Bool(true),
	})

	// Stage 2: tenant extraction and membership validation. The release
	// func returns the tenant-scoped relational connection to the pool.
	ctx, release, err := p.tenants.Extract(ctx, res)
	if err != nil {
		return nil, nil, err
	}
	defer release()
	id := reqctx.From(ctx)

	// Stage 3: role authorization.
	if p.rbacEnabled {
		if err := p.policy.Authorize(id.Role, req.Name); err != nil {
			p.sink.Emit(audit.Event{
				RequestID: requestID,
				TenantID:  id.TenantID,
				UserID:    id.UserID,
				Action:    "permission_denied",
				Details:   map[string]any{"tool": req.Name, "role": string(id.Role)},
				Success:   audit.Bool(false),
			})
			return nil, nil, err
		}
	}

	// Stage 4: rate limit.
	decision := p.limiter.Allow(ctx, id.TenantID)
	if !decision.Allowed {
		p.sink.Emit(audit.Event{
			RequestID: requestID,
			TenantID:  id.TenantID,
			UserID:    id.UserID,
			Action:    "rate_limit_exceeded",
			Details:   map[string]any{"tool": req.Name, "limit": decision.Limit, "retry_after": decision.RetryAfter},
			Success:   audit.Bool(false),
		})
		return nil, &decision, apperr.RateLimited(decision.RetryAfter)
	}

	// Stage 5: pre-invocation audit. Success unknown yet.
	p.sink.Emit(audit.Event{
		RequestID:  requestID,
		TenantID:   id.TenantID,
		UserID:     id.UserID,
		Action:     req.Name,
		ResourceID: requestID.String(),
		Details:    map[string]any{"phase": "pre"},
	})

	// Stage 6: handler. A cancellation between pre and post still gets
	// its post event so the trail always pairs up.
	result, handlerErr := p.registry.Call(ctx, req)

	post := audit.Event{
		RequestID:  requestID,
		TenantID:   id.TenantID,
		UserID:     id.UserID,
		Action:     req.Name,
		ResourceID: requestID.String(),
		Details:    map[string]any{"phase": "post"},
		Success:    audit.Bool(handlerErr == nil),
	}
	if ctx.Err() != nil ||
		errors.Is(handlerErr, context.Canceled) || errors.Is(handlerErr, context.DeadlineExceeded) {
		post.Success = audit.Bool(false)
		post.Details["reason"] = "cancelled"
	} else if handlerErr != nil {
		post.Details["error_code"] = apperr.From(handlerErr, requestID).Code
	}
	p.sink.Emit(post)

	if handlerErr != nil {
		log.Debug().Err(handlerErr).Str("tool", req.Name).Msg("tool call failed")
		return nil, &decision, handlerErr
	}
	return result, &decision, nil
}
