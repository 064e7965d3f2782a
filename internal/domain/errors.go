package domain

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for retry decisions.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindTransient  Kind = "transient"
	KindIntegrity  Kind = "integrity"
	KindFatal      Kind = "fatal"
)

// Error is the error type surfaced across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether retrying the same call may succeed.
func (e *Error) Retryable() bool { return e.Kind == KindTransient }

// Wrap attaches kind and message to cause. A nil cause yields a bare error.
func Wrap(kind Kind, cause error, message string) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Integrityf builds an integrity error.
func Integrityf(format string, args ...any) error {
	return &Error{Kind: KindIntegrity, Message: fmt.Sprintf(format, args...)}
}

// Transient marks cause as retryable.
func Transient(cause error, message string) error {
	return &Error{Kind: KindTransient, Message: message, Cause: cause}
}

// KindOf returns the kind of err. Context deadlines count as transient and any
// error without a kind is fatal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	return KindFatal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool { return KindOf(err) == KindTransient }

// Boundary wraps err with message, keeping an existing kind and classifying
// anything else with KindOf.
func Boundary(err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Message: message, Cause: err}
}
