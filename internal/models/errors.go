package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned across a package boundary wraps exactly
// one of these.
var (
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("authentication required")
	ErrNotFound   = errors.New("not found")
	ErrUpstream   = errors.New("upstream service failed")
	ErrStore      = errors.New("storage failure")
)

// Error carries a kind, a message safe to show to clients, and an optional
// cause that is only logged.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Validationf builds a validation error from a client-facing message.
func Validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing or foreign resource. Both cases read the same.
func NotFound(resource string) error {
	return &Error{Kind: ErrNotFound, Message: resource + " not found"}
}

func AuthError(err error) error {
	return &Error{Kind: ErrAuth, Message: "unauthorized", Err: err}
}

func UpstreamError(op string, err error) error {
	return &Error{Kind: ErrUpstream, Message: op + " failed", Err: err}
}

func StoreError(op string, err error) error {
	return &Error{Kind: ErrStore, Message: "failed to " + op, Err: err}
}

// StatusCode maps an error onto an HTTP status code.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing text of err. Causes are not included.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Kind names the taxonomy bucket of err, for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	default:
		return "store"
	}
}
