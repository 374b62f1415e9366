// Package domain defines the core entities exchanged between the control
// plane, its storage backends, and the agents it proxies to.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an Error into the wire-level taxonomy used across the
// storage, ACP, and dispatch layers (see original spec §7).
type Kind int

const (
	// KindUnknown is the zero value; never returned intentionally.
	KindUnknown Kind = iota
	// KindClientError marks caller-supplied invalid or conflicting input.
	KindClientError
	// KindNotFound marks a missing entity; a specialization of ClientError.
	KindNotFound
	// KindDuplicate marks a uniqueness violation.
	KindDuplicate
	// KindAuthError marks an authorization or signature failure.
	KindAuthError
	// KindServiceError marks an unexpected or exhausted-retry server failure.
	KindServiceError
	// KindMethodNotFound marks an RPC method the dispatcher does not
	// recognize at all, distinct from a method that exists but is
	// disallowed for the agent's acp_type (original spec §6: "Additional
	// methods return JSON-RPC error -32601").
	KindMethodNotFound
)

// String renders the Kind for logging and error messages.
func (k Kind) String() string {
	switch k {
	case KindClientError:
		return "ClientError"
	case KindNotFound:
		return "NotFound"
	case KindDuplicate:
		return "Duplicate"
	case KindAuthError:
		return "AuthError"
	case KindServiceError:
		return "ServiceError"
	case KindMethodNotFound:
		return "MethodNotFound"
	default:
		return "Unknown"
	}
}

// Error is the typed error carried across component boundaries. Components
// that need to render an HTTP status or a JSON-RPC error code inspect Kind
// rather than matching on Go error values.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError builds a new *Error with the given kind and formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a new *Error carrying cause as its Unwrap target.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return NewError(KindNotFound, format, args...)
}

// ClientError builds a KindClientError error.
func ClientError(format string, args ...any) *Error {
	return NewError(KindClientError, format, args...)
}

// Duplicate builds a KindDuplicate error.
func Duplicate(format string, args ...any) *Error {
	return NewError(KindDuplicate, format, args...)
}

// AuthError builds a KindAuthError error.
func AuthError(format string, args ...any) *Error {
	return NewError(KindAuthError, format, args...)
}

// ServiceError builds a KindServiceError error, optionally wrapping cause.
func ServiceError(cause error, format string, args ...any) *Error {
	return Wrap(KindServiceError, cause, format, args...)
}

// MethodNotFound builds a KindMethodNotFound error.
func MethodNotFound(format string, args ...any) *Error {
	return NewError(KindMethodNotFound, format, args...)
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, otherwise
// KindServiceError as the safe default for unrecognized failures.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindServiceError
}

// IsNotFound reports whether err is a NotFound domain error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
