// Package apperr is the client-facing error model. Handlers return *Error
// values tagged with a Kind; the admission wrapper maps the Kind to an HTTP
// status and serializes the error into the standard body shape. Anything
// untagged is reported as a generic internal error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Kind string

const (
	KindInvalidRequest     Kind = "INVALID_REQUEST"
	KindRequiredField      Kind = "REQUIRED_FIELD_ERROR"
	KindValidation         Kind = "VALIDATION_ERROR"
	KindNotFound           Kind = "NOT_FOUND"
	KindUnauthorized       Kind = "UNAUTHORIZED"
	KindForbidden          Kind = "FORBIDDEN"
	KindConflict           Kind = "CONFLICT"
	KindRateLimitExceeded  Kind = "RATE_LIMIT_EXCEEDED"
	KindTemporarilyBlocked Kind = "TEMPORARILY_BLOCKED"
	KindInternal           Kind = "INTERNAL_SERVER_ERROR"
)

// InternalMessage is the only message an untagged failure ever exposes.
const InternalMessage = "An error occurred while processing your request"

// Kinds lists every Kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindInvalidRequest, KindRequiredField, KindValidation, KindNotFound,
		KindUnauthorized, KindForbidden, KindConflict, KindRateLimitExceeded,
		KindTemporarilyBlocked, KindInternal,
	}
}

// HTTPStatus maps a Kind to its response status. Unknown kinds are 500.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidRequest, KindRequiredField, KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimitExceeded, KindTemporarilyBlocked:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a tagged failure. Field is set for field-level validation kinds,
// RetryAfter only for the rate-limit kinds.
type Error struct {
	Kind       Kind
	Message    string
	Field      string
	Details    string
	RetryAfter time.Duration

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Status is shorthand for e.Kind.HTTPStatus().
func (e *Error) Status() int { return e.Kind.HTTPStatus() }

// WithCause records the underlying error for logs; it never reaches the client.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// WithDetails sets the optional details string sent to the client.
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func InvalidRequest(msg string) *Error { return New(KindInvalidRequest, msg) }

// Required reports a missing field.
func Required(field string) *Error {
	return &Error{Kind: KindRequiredField, Message: field + " is required", Field: field}
}

func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Field: field}
}

func NotFound(msg string) *Error     { return New(KindNotFound, msg) }
func Unauthorized(msg string) *Error { return New(KindUnauthorized, msg) }
func Forbidden(msg string) *Error    { return New(KindForbidden, msg) }
func Conflict(msg string) *Error     { return New(KindConflict, msg) }

func RateLimited(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimitExceeded, Message: msg, RetryAfter: retryAfter}
}

func Blocked(msg string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindTemporarilyBlocked, Message: msg, RetryAfter: retryAfter}
}

// Internal hides cause behind the generic message.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: InternalMessage, cause: cause}
}

// From returns the first *Error in err's chain, or an internal error wrapping err.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) && ae != nil {
		return ae
	}
	return Internal(err)
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}
