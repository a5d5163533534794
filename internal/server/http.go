package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/auth"
	"github.com/toolgate/toolgate/internal/ratelimit"
	"github.com/toolgate/toolgate/internal/tools"
)

const protocolVersion = "2025-03-26"

// HTTPServer is the JSON-RPC transport over the pipeline.
type HTTPServer struct {
	pipeline *Pipeline
	registry *tools.Registry
	tokens   *auth.TokenClient
}

func NewHTTPServer(pipeline *Pipeline, registry *tools.Registry) *HTTPServer {
	return &HTTPServer{pipeline: pipeline, registry: registry}
}

// WithTokenClient enables the OAuth token-exchange endpoint.
func (s *HTTPServer) WithTokenClient(tc *auth.TokenClient) *HTTPServer {
	s.tokens = tc
	return s
}

// Routes builds the router: one RPC endpoint plus health.
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Post("/rpc", s.handleRPC)
	r.Post("/oauth/token", s.handleTokenExchange)

	log.Info().Msg("HTTP routes registered")
	return r
}

// handleTokenExchange redeems an authorization code or refresh token on
// behalf of an agent that cannot complete the browser flow itself.
func (s *HTTPServer) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		http.Error(w, "token exchange not configured", http.StatusNotImplemented)
		return
	}

	var req struct {
		GrantType    string `json:"grant_type"`
		Code         string `json:"code,omitempty"`
		RedirectURI  string `json:"redirect_uri,omitempty"`
		RefreshToken string `json:"refresh_token,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var tok *auth.TokenResponse
	var err error
	switch req.GrantType {
	case "authorization_code":
		tok, err = s.tokens.ExchangeCode(r.Context(), req.Code, req.RedirectURI)
	case "refresh_token":
		tok, err = s.tokens.Refresh(r.Context(), req.RefreshToken)
	default:
		http.Error(w, "unsupported grant_type", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("grant_type", req.GrantType).Msg("token exchange failed")
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tok)
}

func (s *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New()

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, codeParseError, "invalid JSON", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, codeInvalidRequest, "invalid jsonrpc version", nil)
		return
	}

	switch req.Method {
	case "initialize":
		s.sendResult(w, req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo": map[string]any{
				"name":    "toolgate",
				"version": "0.1.0",
			},
		})

	case "ping":
		s.sendResult(w, req.ID, map[string]any{"status": "ok"})

	case "tools/list":
		s.sendResult(w, req.ID, map[string]any{"tools": s.registry.List()})

	case "tools/call":
		var callReq tools.CallRequest
		if err := json.Unmarshal(req.Params, &callReq); err != nil {
			s.sendError(w, req.ID, codeInvalidParams, "invalid tool call parameters", nil)
			return
		}

		result, decision, err := s.pipeline.Dispatch(r.Context(), r.Header, callReq, requestID)
		writeRateHeaders(w, decision)
		if err != nil {
			ae := apperr.From(err, requestID)
			s.sendError(w, req.ID, rpcCodeFor(ae), ae.Message, mustMarshal(ae.Wire()))
			return
		}
		s.sendResult(w, req.ID, result)

	default:
		s.sendError(w, req.ID, codeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

// writeRateHeaders attaches the standard rate-limit headers whenever an
// admission decision was made.
func writeRateHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	if d == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetTime.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetTime.Unix(), 10))
	}
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}

// rpcCodeFor maps the structured error taxonomy onto JSON-RPC codes.
func rpcCodeFor(ae *apperr.Error) int {
	switch ae.Code {
	case apperr.CodeValidation:
		return codeInvalidParams
	case apperr.CodeNotFound:
		return codeMethodNotFound
	case apperr.CodeInternal:
		return codeInternalError
	default:
		return codeInvalidRequest
	}
}

// JSON-RPC errors ride on HTTP 200; the HTTP status for the failure
// class travels inside the error envelope.
func (s *HTTPServer) sendError(w http.ResponseWriter, id json.RawMessage, code int, message string, data json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message, Data: data},
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *HTTPServer) sendResult(w http.ResponseWriter, id json.RawMessage, result any) {
	w.Header().Set("Content-Type", "application/json")

	resp := rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  mustMarshal(result),
	}
	json.NewEncoder(w).Encode(resp)
}
