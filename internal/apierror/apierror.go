// Package apierror defines the error kinds that cross the HTTP boundary
// before a socket upgrade: BadRequest, AuthError, DocumentNotFound, and
// Unexpected, each mapped to its HTTP status.
package apierror

import (
	"fmt"
	"net/http"
)

// Code identifies one of the boundary error kinds.
type Code string

const (
	BadRequest       Code = "BAD_REQUEST"
	AuthError        Code = "AUTH_ERROR"
	DocumentNotFound Code = "DOCUMENT_NOT_FOUND"
	Unexpected       Code = "UNEXPECTED"
)

// Error is a structured error carrying its boundary kind.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus maps the error kind to the status code the upgrade handler
// should send before the connection ever reaches a socket.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case BadRequest:
		return http.StatusBadRequest
	case AuthError:
		return http.StatusUnauthorized
	case DocumentNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// New creates an Error of the given kind.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error of the given kind around a lower-level cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// NewBadRequest is a convenience constructor for malformed document IDs.
func NewBadRequest(message string) *Error { return New(BadRequest, message) }

// NewAuthError is a convenience constructor for missing/invalid/expired tokens.
func NewAuthError(message string) *Error { return New(AuthError, message) }

// NewDocumentNotFound is a convenience constructor covering both a missing
// row and an authorization mismatch — the two are indistinguishable to the
// caller by design, to avoid leaking document existence.
func NewDocumentNotFound(message string) *Error { return New(DocumentNotFound, message) }
