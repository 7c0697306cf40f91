// Package apierr defines the typed error-kind taxonomy shared by every
// component of the verification core and its HTTP mapping.
//
// Errors are represented as kinds, not as a hierarchy of concrete types:
// callers compare against the exported sentinel Kinds with errors.Is and
// attach a reason with Wrap. Internal details (SQL errors, storage backend
// messages) should never be handed to Wrap for an error that will reach an
// HTTP response; wrap those with fmt.Errorf at the call site and log them,
// then return apierr.Internal or apierr.DatabaseError instead.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies one of the closed set of error kinds a component may
// return. The zero value is not a valid Kind.
type Kind int

const (
	_ Kind = iota
	NotImplemented
	Validation
	Internal
	DatabaseError
	DeviceNotFound
	CaptureNotFound
	HashNotFound
	AttestationFailed
	SignatureInvalid
	TimestampExpired
	ChallengeNotFound
	ChallengeInvalid
	ChallengeExpired
	ProcessingFailed
	StorageError
	RateLimitExceeded
)

func (k Kind) String() string {
	switch k {
	case NotImplemented:
		return "NotImplemented"
	case Validation:
		return "Validation"
	case Internal:
		return "Internal"
	case DatabaseError:
		return "DatabaseError"
	case DeviceNotFound:
		return "DeviceNotFound"
	case CaptureNotFound:
		return "CaptureNotFound"
	case HashNotFound:
		return "HashNotFound"
	case AttestationFailed:
		return "AttestationFailed"
	case SignatureInvalid:
		return "SignatureInvalid"
	case TimestampExpired:
		return "TimestampExpired"
	case ChallengeNotFound:
		return "ChallengeNotFound"
	case ChallengeInvalid:
		return "ChallengeInvalid"
	case ChallengeExpired:
		return "ChallengeExpired"
	case ProcessingFailed:
		return "ProcessingFailed"
	case StorageError:
		return "StorageError"
	case RateLimitExceeded:
		return "RateLimitExceeded"
	default:
		return "Unknown"
	}
}

// HTTPStatus maps a Kind to the HTTP status code from spec.md §7.
func (k Kind) HTTPStatus() int {
	switch k {
	case Validation, ChallengeInvalid, ChallengeExpired, ChallengeNotFound:
		return http.StatusBadRequest
	case SignatureInvalid, TimestampExpired, AttestationFailed:
		return http.StatusUnauthorized
	case DeviceNotFound, CaptureNotFound, HashNotFound:
		return http.StatusNotFound
	case RateLimitExceeded:
		return http.StatusTooManyRequests
	case Internal, DatabaseError, ProcessingFailed, StorageError:
		return http.StatusInternalServerError
	case NotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// Error is the concrete error value carried through the system: a Kind plus
// an optional human-actionable message and an optional wrapped cause.
//
// The cause is never rendered to API callers (see Propagation policy,
// spec.md §7); it exists purely so logging can record it with the request
// id attached.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error of the given kind with a caller-facing message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind, recording cause for logging while
// keeping the caller-facing message independent of the cause's text.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Cause returns the wrapped internal error, or nil. Handlers use this to log
// full detail while returning only the Error's Message to the client.
func Cause(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.cause
	}
	return nil
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// KindOf extracts the Kind from err, defaulting to Internal when err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}
