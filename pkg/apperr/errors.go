// Package apperr defines the error kinds surfaced by the usufruit core.
//
// Every fallible core operation returns either nil or an error that
// classifies as exactly one Kind. Transports map kinds to their own status
// vocabulary through [HTTPStatus]; nothing outside this package inspects
// message strings.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the calling layer.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindConflict     Kind = "conflict"
	KindValidation   Kind = "validation"
	KindDependency   Kind = "dependency"
	KindInternal     Kind = "internal"
)

// httpStatusMap maps kinds to HTTP status codes.
var httpStatusMap = map[Kind]int{
	KindNotFound:     http.StatusNotFound,            // 404
	KindUnauthorized: http.StatusUnauthorized,        // 401
	KindForbidden:    http.StatusForbidden,           // 403
	KindConflict:     http.StatusConflict,            // 409
	KindValidation:   http.StatusBadRequest,          // 400
	KindDependency:   http.StatusServiceUnavailable,  // 503
	KindInternal:     http.StatusInternalServerError, // 500
}

// Error is a classified error. Message is safe to show to callers and must
// never contain secret material.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity, or one outside the path's parent.
func NotFound(format string, args ...any) *Error {
	return newf(KindNotFound, format, args...)
}

// Unauthorized reports a missing or invalid credential where one is required.
func Unauthorized(format string, args ...any) *Error {
	return newf(KindUnauthorized, format, args...)
}

// Forbidden reports a valid credential with insufficient privilege.
func Forbidden(format string, args ...any) *Error {
	return newf(KindForbidden, format, args...)
}

// Conflict reports an invariant violation.
func Conflict(format string, args ...any) *Error {
	return newf(KindConflict, format, args...)
}

// Validation reports a missing or malformed field.
func Validation(format string, args ...any) *Error {
	return newf(KindValidation, format, args...)
}

// Dependency wraps a failure of the store or the embedding backend.
func Dependency(err error, format string, args ...any) *Error {
	e := newf(KindDependency, format, args...)
	e.Err = err
	return e
}

// Wrap attaches a cause to an existing classified error.
func Wrap(e *Error, cause error) *Error {
	e.Err = cause
	return e
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
// A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus returns the HTTP status code for err.
func HTTPStatus(err error) int {
	if status, ok := httpStatusMap[KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the caller-facing message for err. Unclassified
// errors collapse to a generic message so internal details stay in logs.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Kind != KindInternal {
		return appErr.Message
	}
	return "internal server error"
}
