package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindAndStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   string
		status int
	}{
		{"nil", nil, "", http.StatusOK},
		{"validation", Validation("delayMs must be >= 0"), "validation_error", http.StatusBadRequest},
		{"not found", NotFound("order ORD-1"), "not_found", http.StatusNotFound},
		{"missing phone", fmt.Errorf("schedule: %w", ErrMissingPhone), "missing_phone", http.StatusUnprocessableEntity},
		{"unauthorized", fmt.Errorf("otp: %w", ErrUnauthorized), "unauthorized", http.StatusUnauthorized},
		{"rate limited", ErrRateLimited, "rate_limited", http.StatusTooManyRequests},
		{"telephony", &TelephonyError{HTTPStatus: 503, Body: "down"}, "telephony_error", http.StatusBadGateway},
		{"queue", &QueueError{Op: "enqueue", Err: errors.New("conn refused")}, "queue_error", http.StatusServiceUnavailable},
		{"deadline", context.DeadlineExceeded, "timeout", http.StatusGatewayTimeout},
		{"other", errors.New("boom"), "internal", http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Kind(tc.err); got != tc.kind {
				t.Fatalf("Kind() = %q, want %q", got, tc.kind)
			}
			if got := HTTPStatus(tc.err); got != tc.status {
				t.Fatalf("HTTPStatus() = %d, want %d", got, tc.status)
			}
		})
	}
}

func TestTelephonyErrorMessage(t *testing.T) {
	err := &TelephonyError{HTTPStatus: 401, Body: `{"RestException":{}}`}
	if err.Error() != "telephony: HTTP 401" {
		t.Fatalf("unexpected message %q", err.Error())
	}

	wrapped := &TelephonyError{Err: context.DeadlineExceeded}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Fatalf("expected unwrap to deadline exceeded")
	}
}
