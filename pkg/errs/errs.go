// Package errs defines the closed failure taxonomy shared by both cores.
// Every failure that crosses a component boundary is classified as one of
// the kinds below; the HTTP layer maps kinds to wire errors and the
// cancellation agent uses kinds to decide between retry, fallback, and abort.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a member of the taxonomy.
type Kind string

const (
	// KindConfiguration — invalid environment or state at startup. Fatal.
	KindConfiguration Kind = "configuration"

	// KindInputValidation — the caller violated an input contract.
	KindInputValidation Kind = "input_validation"

	// KindRateLimit — the upstream LM throttled the request.
	KindRateLimit Kind = "rate_limit"

	// KindDatabaseUnavailable — the tool server or database cannot start.
	KindDatabaseUnavailable Kind = "database_unavailable"

	// KindAgentTimeout — a session deadline expired.
	KindAgentTimeout Kind = "agent_timeout"

	// KindElementNotFound — a browser targeting strategy failed (Core A).
	KindElementNotFound Kind = "element_not_found"

	// KindStateDetection — the LM refused or returned low confidence (Core A).
	KindStateDetection Kind = "state_detection"

	// KindStateMachine — an illegal transition or an exhausted state (Core A).
	KindStateMachine Kind = "state_machine"

	// KindTransient — a retryable browser or network flake (Core A).
	KindTransient Kind = "transient"

	// KindHumanIntervention — a human gate was raised (Core A).
	KindHumanIntervention Kind = "human_intervention"

	// KindUserAborted — the operator declined or timed out at a human gate (Core A).
	KindUserAborted Kind = "user_aborted"

	// KindInternal — anything not otherwise classified.
	KindInternal Kind = "internal"
)

// Retryable reports whether the kind is safe to retry with backoff.
func (k Kind) Retryable() bool {
	return k == KindRateLimit || k == KindTransient
}

// HTTPStatus returns the status code the gateway emits for this kind.
// Core A kinds never reach the HTTP boundary and map to 500 defensively.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInputValidation:
		return http.StatusBadRequest
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindDatabaseUnavailable:
		return http.StatusServiceUnavailable
	case KindAgentTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable error code for the wire format.
func (k Kind) Code() string {
	switch k {
	case KindInputValidation:
		return "input_too_long"
	case KindRateLimit:
		return "rate_limited"
	case KindDatabaseUnavailable:
		return "database_unavailable"
	case KindAgentTimeout:
		return "agent_timeout"
	default:
		return "internal_error"
	}
}

// WireType returns the OpenAI-shaped error type for the wire format.
func (k Kind) WireType() string {
	switch k {
	case KindInputValidation:
		return "invalid_request_error"
	case KindRateLimit:
		return "rate_limit_error"
	default:
		return "api_error"
	}
}

// Error is the concrete taxonomy error. Message is user-safe; Err carries
// the underlying cause for logs only and is never sent to clients.
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

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a taxonomy error without an underlying cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the taxonomy kind from an error chain.
// Unclassified errors are KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
