// Package errors provides the three typed error kinds that cross component
// boundaries in the resolver: NotFound, SignatureError, and KeyringError.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind identifies which of the three resolver error kinds an error is.
type Kind string

const (
	// KindNotFound means a required artifact is missing, unreachable, or
	// failed network retrieval. Recoverable only at the state-machine
	// level (e.g. "no blacklist" is a legitimate NotFound).
	KindNotFound Kind = "NOT_FOUND"

	// KindSignature means signature verification failed or the signing
	// key is blacklisted. Recoverable by the state machine at exactly two
	// points (get_blacklist, get_channel); fatal everywhere else.
	KindSignature Kind = "SIGNATURE_ERROR"

	// KindKeyring means a manifest-level problem with a keyring: type,
	// model, or expiry mismatch. Always fatal, never retried.
	KindKeyring Kind = "KEYRING_ERROR"
)

// ResolverError is the common shape for all three error kinds.
type ResolverError struct {
	Kind    Kind
	Message string
	Cause   error
	Fields  map[string]interface{}
}

// Error implements the error interface.
func (e *ResolverError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// ResolverError deliberately does not implement Unwrap(). Errors surface
// outward unchained: get_master_key and get_signing_key raise a fresh
// SignatureError regardless of whether the underlying failure was itself a
// SignatureError, a NotFound, or a KeyringError, so that a caller
// inspecting the error after a recovery attempt never misreads the
// pre-recovery cause as the final one. Use CauseOf below when the original
// cause is wanted for logging.

// CauseOf returns the wrapped cause, or nil if err is not a *ResolverError
// or carries none. This is for diagnostics only; never use it to drive
// control flow, which must key off Kind alone.
func CauseOf(err error) error {
	if re, ok := err.(*ResolverError); ok {
		return re.Cause
	}
	return nil
}

// WithField attaches a context field (e.g. "keyring_type", "url") for
// structured logging.
func (e *ResolverError) WithField(key string, value interface{}) *ResolverError {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

// NotFound constructs a KindNotFound error.
func NotFound(message string) *ResolverError {
	return &ResolverError{Kind: KindNotFound, Message: message}
}

// NotFoundf constructs a KindNotFound error with a formatted message.
func NotFoundf(format string, args ...interface{}) *ResolverError {
	return NotFound(fmt.Sprintf(format, args...))
}

// Signature constructs a KindSignature error, recording cause for logging
// without chaining it (see the note on Unwrap above).
func Signature(message string, cause error) *ResolverError {
	return &ResolverError{Kind: KindSignature, Message: message, Cause: cause}
}

// Keyring constructs a KindKeyring error.
func Keyring(message string) *ResolverError {
	return &ResolverError{Kind: KindKeyring, Message: message}
}

// Keyringf constructs a KindKeyring error with a formatted message.
func Keyringf(format string, args ...interface{}) *ResolverError {
	return Keyring(fmt.Sprintf(format, args...))
}

// Is reports whether err is, or wraps, a *ResolverError of the given kind.
// Only message-context wrapping (fmt.Errorf %w) is traversed here; a
// ResolverError itself never exposes its Cause to the chain.
func Is(err error, kind Kind) bool {
	var re *ResolverError
	return stderrors.As(err, &re) && re.Kind == kind
}

// KindOf extracts the Kind from err, or "" if no *ResolverError is found.
func KindOf(err error) Kind {
	var re *ResolverError
	if stderrors.As(err, &re) {
		return re.Kind
	}
	return ""
}
