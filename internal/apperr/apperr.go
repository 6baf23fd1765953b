// Package apperr defines the surface-independent error taxonomy used to
// translate internal failures into HTTP status codes and terminal task
// states.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why an operation failed, independent of the surface
// (HTTP handler, background worker) that observes it.
type Kind string

const (
	ValidationKind Kind = "validation"
	NotFoundKind   Kind = "not_found"
	AuthKind       Kind = "auth"
	TimeoutKind    Kind = "timeout"
	HypervisorKind Kind = "hypervisor"
	GuestOpsKind   Kind = "guest_ops"
	ExecKind       Kind = "exec"
)

// Error wraps a Kind and a human-readable message, optionally around a
// causing error.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to HypervisorKind for
// errors that were never classified (treated as an upstream fault since
// that's the most common unclassified failure in this system).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return HypervisorKind
}

// HTTPStatus maps a Kind to its HTTP status code. AuthKind is
// context-dependent (400 for a malformed enrollment request, 502 once a
// hypervisor has rejected credentials); callers that need the 502 variant
// should use HTTPStatusAuthRejected instead.
func HTTPStatus(kind Kind) int {
	switch kind {
	case ValidationKind:
		return http.StatusBadRequest
	case NotFoundKind:
		return http.StatusNotFound
	case AuthKind:
		return http.StatusBadRequest
	case TimeoutKind:
		return http.StatusGatewayTimeout
	case HypervisorKind:
		return http.StatusBadGateway
	case ExecKind:
		return http.StatusBadGateway
	case GuestOpsKind:
		// never surfaced directly to HTTP callers: it only appears inside
		// a clone result, never as a request failure.
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatusAuthRejected is the 502 variant of AuthKind used once a
// hypervisor has actively rejected credentials during a probe, as opposed
// to the request simply omitting one (400).
func HTTPStatusAuthRejected() int {
	return http.StatusBadGateway
}
