// Package apperr holds the error kinds shared by the store, the session
// layer and the HTTP surface.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrReferential         = errors.New("referential integrity violation")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrRateLimited         = errors.New("rate limited")
)

// Validation wraps msg so that errors.Is(err, ErrValidation) holds and
// Message(err) returns msg unchanged.
func Validation(msg string) error {
	return &validationError{msg: msg}
}

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func (e *validationError) Unwrap() error { return ErrValidation }

// HTTPStatus maps an error to the status code the API responds with.
// Not-found and access-denied share 404 so foreign ids look like missing ones.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAccessDenied):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing text for err.
func Message(err error) string {
	var ve *validationError
	switch {
	case errors.As(err, &ve):
		return ve.msg
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAccessDenied):
		return "Session not found or access denied"
	case errors.Is(err, ErrRateLimited):
		return "Too many messages, please try again later"
	default:
		return "Internal server error"
	}
}

// Upstream wraps cause as an ErrUpstreamUnavailable.
func Upstream(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUpstreamUnavailable, fmt.Sprintf(format, args...))
}
