// Package errkind defines the closed error taxonomy used across the
// daemon (spec.md §7): tools, agent loops, and the orchestrator all
// classify failures into one of these kinds rather than inventing ad hoc
// sentinel errors per package.
package errkind

import "fmt"

// Kind is one of the fixed error categories in spec.md §7.
type Kind string

const (
	Cancelled         Kind = "CANCELLED"
	StepLimit         Kind = "STEP_LIMIT"
	Config            Kind = "CONFIG"
	ToolFailure       Kind = "TOOL_FAILURE"
	Provider          Kind = "PROVIDER"
	PathTraversal     Kind = "PATH_TRAVERSAL"
	InvalidInput      Kind = "INVALID_INPUT"
	NotFound          Kind = "NOT_FOUND"
	BrowserPageClosed Kind = "BROWSER_PAGE_CLOSED"
	Timeout           Kind = "TIMEOUT"
)

// Error pairs a Kind with a human-readable message, optionally wrapping an
// underlying cause for %w-style unwrapping.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New builds an Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error around an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind == kind
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Retryable reports whether a Kind is eligible for automatic retry
// (spec.md §7: only PROVIDER errors are retried, up to
// constants.ProviderMaxRetries times with backoff).
func (k Kind) Retryable() bool {
	return k == Provider
}

// HTTPStatus maps a Kind to the status code internal/httpapi sends when a
// core-touching handler's error carries it (spec.md §7: "TIMEOUT ...
// surfaced as ... for the HTTP layer, 504/gateway-style shapes").
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidInput, Config:
		return 400
	case PathTraversal:
		return 403
	case NotFound:
		return 404
	case Cancelled:
		return 409
	case Timeout:
		return 504
	case Provider, ToolFailure, StepLimit, BrowserPageClosed:
		return 500
	default:
		return 500
	}
}

// HTTPStatus returns the mapped status for err if it (or something it
// wraps) is an *Error, or 500 otherwise.
func HTTPStatus(err error) int {
	var e *Error
	if asError(err, &e) {
		return e.Kind.HTTPStatus()
	}
	return 500
}
