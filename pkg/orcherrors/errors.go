// Package orcherrors defines the typed error kinds surfaced by the
// session orchestration plane and their HTTP status mapping.
package orcherrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure the way §7 of the orchestration contract does.
type Kind string

const (
	ValidationError         Kind = "ValidationError"
	NotFound                Kind = "NotFound"
	ResourceExhausted       Kind = "ResourceExhausted"
	ReadinessTimeout        Kind = "ReadinessTimeout"
	StoreError              Kind = "StoreError"
	SandboxError            Kind = "SandboxError"
	AgentError              Kind = "AgentError"
	PublishError            Kind = "PublishError"
	ToolEndpointUnavailable Kind = "ToolEndpointUnavailable"
	Fatal                   Kind = "Fatal"
)

// Error wraps an underlying cause with a Kind for dispatch by callers
// that need to decide on HTTP status, retry, or lifecycle transition.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an existing error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Fatal if err does not
// carry one.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return Fatal
}

// HTTPStatus maps a Kind onto the HTTP status code it surfaces as,
// per the orchestration contract's error propagation policy.
func HTTPStatus(kind Kind) int {
	switch kind {
	case ValidationError:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case ResourceExhausted:
		return http.StatusServiceUnavailable
	case ReadinessTimeout:
		return http.StatusInternalServerError
	case StoreError:
		return http.StatusInternalServerError
	case SandboxError:
		return http.StatusInternalServerError
	case AgentError:
		return http.StatusInternalServerError
	case PublishError:
		return http.StatusInternalServerError
	case ToolEndpointUnavailable:
		return http.StatusInternalServerError
	case Fatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether local recovery (retry) is appropriate for
// this kind, per the propagation policy: only StoreError and the
// idempotent "already stopped/removed" cases get local retry.
func Retryable(kind Kind) bool {
	return kind == StoreError
}
