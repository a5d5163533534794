// Package apperr defines the structured error shape shared by every
// public boundary of the gateway: a stable code, a human message,
// structured details, bounded recovery suggestions and a request id.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// Stable wire codes. These never change once released; clients key
// retry and display behavior off them.
const (
	CodeAuthentication   = "AUTH-001"
	CodeAuthorization    = "AUTH-002"
	CodeTenantIsolation  = "ERROR-003"
	CodeRateLimited      = "ERROR-004"
	CodeMemoryAccess     = "DATA-002"
	CodeNotFound         = "RESOURCE-001"
	CodeValidation       = "VALIDATION-001"
	CodeUnavailable      = "SERVICE-001"
	CodeInternal         = "INTERNAL-001"
)

// Error is the single structured error type crossing package
// boundaries. Immutable after construction.
type Error struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Details     map[string]any `json:"details,omitempty"`
	Suggestions []string       `json:"recovery_suggestions,omitempty"`
	RequestID   uuid.UUID      `json:"request_id"`
	Status      int            `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Envelope is the on-the-wire failure form.
type Envelope struct {
	Error      *Error `json:"error"`
	StatusCode int    `json:"status_code"`
}

// Wire returns the serializable envelope for e.
func (e *Error) Wire() Envelope {
	return Envelope{Error: e, StatusCode: e.Status}
}

// WithRequestID returns a copy of e bound to the given request id.
func (e *Error) WithRequestID(id uuid.UUID) *Error {
	c := *e
	c.RequestID = id
	return &c
}

// WithDetail returns a copy of e with one extra detail entry.
func (e *Error) WithDetail(key string, val any) *Error {
	c := *e
	c.Details = make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		c.Details[k] = v
	}
	c.Details[key] = val
	return &c
}

func newError(code, message string, status int, suggestions ...string) *Error {
	return &Error{
		Code:        code,
		Message:     message,
		Status:      status,
		Suggestions: suggestions,
	}
}

// Authentication builds a 401 with code AUTH-001.
func Authentication(message string) *Error {
	return newError(CodeAuthentication, message, http.StatusUnauthorized,
		"Verify the Authorization or X-API-Key header",
		"Refresh the access token if it has expired")
}

// Authorization builds a 403 with code AUTH-002.
func Authorization(message string) *Error {
	return newError(CodeAuthorization, message, http.StatusForbidden,
		"Request access to this tool from a tenant administrator")
}

// TenantIsolation builds a 403 with code ERROR-003. Raised whenever the
// ambient tenant is missing or a cross-tenant key is observed.
func TenantIsolation(message string) *Error {
	return newError(CodeTenantIsolation, message, http.StatusForbidden,
		"Confirm the token's tenant_id claim matches the target tenant")
}

// TenantValidation builds a 403 membership failure, same code family as
// isolation errors.
func TenantValidation(message string) *Error {
	return newError(CodeTenantIsolation, message, http.StatusForbidden,
		"Confirm the user belongs to the claimed tenant")
}

// MemoryAccess builds a 403 with code DATA-002.
func MemoryAccess(message string) *Error {
	return newError(CodeMemoryAccess, message, http.StatusForbidden,
		"Target your own user_id, or use a tenant_admin credential")
}

// Validation builds a 400 with code VALIDATION-001.
func Validation(message string) *Error {
	return newError(CodeValidation, message, http.StatusBadRequest,
		"Correct the request parameters and retry")
}

// NotFound builds a 404 with code RESOURCE-001.
func NotFound(message string) *Error {
	return newError(CodeNotFound, message, http.StatusNotFound)
}

// RateLimited builds a 429 with code ERROR-004 and carries retry_after
// seconds in details.
func RateLimited(retryAfter int) *Error {
	e := newError(CodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests,
		fmt.Sprintf("Retry after %d seconds", retryAfter))
	e.Details = map[string]any{"retry_after": retryAfter}
	return e
}

// Unavailable builds a 503 with code SERVICE-001.
func Unavailable(message string) *Error {
	return newError(CodeUnavailable, message, http.StatusServiceUnavailable,
		"Retry the request; the dependency may recover shortly")
}

// Internal builds a 500 that hides the underlying failure text from the
// wire. The cause stays server-side in logs only.
func Internal(requestID uuid.UUID) *Error {
	e := newError(CodeInternal, "internal server error", http.StatusInternalServerError,
		"Contact support with the request id")
	e.RequestID = requestID
	return e
}

// From maps any error to a structured *Error. Already-structured errors
// pass through; everything else becomes a 500 with the generic phrase.
func From(err error, requestID uuid.UUID) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		if ae.RequestID == uuid.Nil {
			return ae.WithRequestID(requestID)
		}
		return ae
	}
	return Internal(requestID)
}

// IsCode reports whether err is a structured error with the given code.
func IsCode(err error, code string) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Code == code
}
