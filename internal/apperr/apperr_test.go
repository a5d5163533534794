package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err    *Error
		code   string
		status int
	}{
		{Authentication("x"), CodeAuthentication, http.StatusUnauthorized},
		{Authorization("x"), CodeAuthorization, http.StatusForbidden},
		{TenantIsolation("x"), CodeTenantIsolation, http.StatusForbidden},
		{TenantValidation("x"), CodeTenantIsolation, http.StatusForbidden},
		{MemoryAccess("x"), CodeMemoryAccess, http.StatusForbidden},
		{Validation("x"), CodeValidation, http.StatusBadRequest},
		{NotFound("x"), CodeNotFound, http.StatusNotFound},
		{RateLimited(5), CodeRateLimited, http.StatusTooManyRequests},
		{Unavailable("x"), CodeUnavailable, http.StatusServiceUnavailable},
		{Internal(uuid.New()), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if tc.err.Code != tc.code {
			t.Errorf("code = %s, want %s", tc.err.Code, tc.code)
		}
		if tc.err.Status != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.code, tc.err.Status, tc.status)
		}
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	e := RateLimited(42)
	if got := e.Details["retry_after"]; got != 42 {
		t.Fatalf("retry_after = %v, want 42", got)
	}
}

func TestInternalHidesCause(t *testing.T) {
	e := Internal(uuid.New())
	if e.Message != "internal server error" {
		t.Fatalf("internal error leaks detail: %q", e.Message)
	}
}

func TestFromPassthrough(t *testing.T) {
	reqID := uuid.New()

	orig := Validation("bad input")
	got := From(orig, reqID)
	if got.Code != CodeValidation {
		t.Fatalf("structured error did not pass through: %v", got)
	}
	if got.RequestID != reqID {
		t.Fatalf("request id not stamped: %v", got.RequestID)
	}

	// Wrapped structured errors still pass through.
	wrapped := fmt.Errorf("context: %w", orig)
	if got := From(wrapped, reqID); got.Code != CodeValidation {
		t.Fatalf("wrapped structured error mapped to %s", got.Code)
	}

	// Arbitrary errors collapse to the opaque 500.
	plain := From(errors.New("pq: connection refused"), reqID)
	if plain.Code != CodeInternal {
		t.Fatalf("plain error code = %s, want %s", plain.Code, CodeInternal)
	}
	if plain.Message != "internal server error" {
		t.Fatalf("plain error leaked: %q", plain.Message)
	}
}

func TestWithDetailCopies(t *testing.T) {
	base := Authentication("no")
	derived := base.WithDetail("reason", "expired")
	if _, ok := base.Details["reason"]; ok {
		t.Fatal("WithDetail mutated the original error")
	}
	if derived.Details["reason"] != "expired" {
		t.Fatal("detail missing on derived error")
	}
}

func TestIsCode(t *testing.T) {
	if !IsCode(Authorization("x"), CodeAuthorization) {
		t.Fatal("IsCode missed matching error")
	}
	if IsCode(errors.New("other"), CodeAuthorization) {
		t.Fatal("IsCode matched plain error")
	}
}
