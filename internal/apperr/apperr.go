// Package apperr defines the error taxonomy shared by the order-call services
// and its mapping to HTTP status codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrMissingPhone = errors.New("no phone number available")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
)

// Validation wraps ErrValidation with a field-level message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the missing entity.
func NotFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// TelephonyError is returned when the telephony provider rejects a request or
// cannot be reached. Body keeps the provider's raw diagnostic payload.
type TelephonyError struct {
	HTTPStatus int
	Body       string
	Err        error
}

func (e *TelephonyError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("telephony: HTTP %d", e.HTTPStatus)
	}
	if e.Err != nil {
		return "telephony: " + e.Err.Error()
	}
	return "telephony: request failed"
}

func (e *TelephonyError) Unwrap() error { return e.Err }

// QueueError is returned when the job queue cannot accept or update a job.
type QueueError struct {
	Op  string
	Err error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("queue %s: %v", e.Op, e.Err)
}

func (e *QueueError) Unwrap() error { return e.Err }

func Kind(err error) string {
	var te *TelephonyError
	var qe *QueueError
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrValidation):
		return "validation_error"

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, ErrMissingPhone):
		return "missing_phone"

	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"

	case errors.Is(err, ErrRateLimited):
		return "rate_limited"

	case errors.As(err, &te):
		return "telephony_error"

	case errors.As(err, &qe):
		return "queue_error"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch Kind(err) {
	case "":
		return http.StatusOK
	case "validation_error":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "missing_phone":
		return http.StatusUnprocessableEntity
	case "unauthorized":
		return http.StatusUnauthorized
	case "rate_limited":
		return http.StatusTooManyRequests
	case "telephony_error":
		return http.StatusBadGateway
	case "queue_error":
		return http.StatusServiceUnavailable
	case "timeout":
		return http.StatusGatewayTimeout
	case "canceled":
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
