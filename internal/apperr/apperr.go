// Package apperr defines the domain error taxonomy shared across the wallet
// engine. Handlers translate kinds to transport status codes; internal errors
// keep their cause for logging but surface a generic message.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error.
type Kind int

const (
	// KindValidation covers malformed or rejected input, such as a
	// non-positive amount or a missing idempotency key.
	KindValidation Kind = iota + 1
	// KindNotFound indicates a referenced wallet or transaction does not exist.
	KindNotFound
	// KindAuthorization indicates the caller lacks ownership or privilege.
	KindAuthorization
	// KindConflict covers business conflicts such as insufficient balance or
	// a duplicate in-flight request.
	KindConflict
	// KindInternal wraps store or cache failures.
	KindInternal
)

// Error is a classified domain error with a stable caller-facing message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.cause }

// Validation builds a KindValidation error.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// NotFound builds a KindNotFound error.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Authorization builds a KindAuthorization error.
func Authorization(msg string) *Error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

// Conflict builds a KindConflict error.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// Internal wraps a low-level failure. The message shown to callers stays
// generic; err is retained for logs.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", cause: err}
}

// KindOf extracts the Kind from err, or KindInternal when err carries no
// classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
