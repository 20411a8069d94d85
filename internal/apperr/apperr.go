// Package apperr defines the service-wide error taxonomy. Every rejection a
// caller can see carries a stable machine-readable code and a human message;
// handlers translate kinds into HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthorization
	KindRateLimited
	KindNotFound
	KindUnavailable
	KindInternal
)

type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func Authorization(code, message string) *Error {
	return &Error{Kind: KindAuthorization, Code: code, Message: message}
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Code:       "rate_limited",
		Message:    fmt.Sprintf("too many requests, retry after %s", retryAfter.Round(time.Second)),
		RetryAfter: retryAfter,
	}
}

func NotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// Unavailable marks a transient upstream failure. The caller may retry with
// the same idempotency key because no mutation was applied.
func Unavailable(code, message string, err error) *Error {
	return &Error{Kind: KindUnavailable, Code: code, Message: message, Err: err}
}

// Internal marks an invariant violation. It is logged with full context at the
// site of failure and surfaced to the caller as a generic error.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: "internal_error", Message: message, Err: err}
}

// KindOf extracts the kind from anywhere in the chain. Unclassified errors
// count as internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}
