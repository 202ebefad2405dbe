package model

import (
	"errors"
	"fmt"
)

// TransportError describes a failure returned by a model backend: the backend
// was unreachable (Status 0) or answered with a non-success HTTP status. It
// crosses package boundaries so the engine can decide whether to retry
// without knowing which SDK produced it.
type TransportError struct {
	provider  string
	operation string
	status    int
	body      string
	cause     error
}

// ValidationError reports a fatal configuration or input problem: duplicate
// function names, malformed utility descriptors, unknown function names or
// content unsupported by the selected model. Validation errors are never
// retried.
type ValidationError struct {
	Reason string
}

// SummarizationFailure reports that the memory compressor could not produce
// a summary. It is not fatal: the turn proceeds with the uncompressed thread.
type SummarizationFailure struct {
	Cause error
}

// ErrUnknownModel is returned when a model name is not registered.
var ErrUnknownModel = errors.New("unknown model")

// NewTransportError constructs a TransportError. provider is required. cause
// may be nil but is recommended to preserve the original error chain.
func NewTransportError(provider, operation string, status int, body string, cause error) *TransportError {
	if provider == "" {
		panic("model: provider is required")
	}
	return &TransportError{
		provider:  provider,
		operation: operation,
		status:    status,
		body:      body,
		cause:     cause,
	}
}

// Provider returns the provider identifier (for example, "openai").
func (e *TransportError) Provider() string { return e.provider }

// Operation returns the provider operation name when known.
func (e *TransportError) Operation() string { return e.operation }

// Status returns the HTTP status code, or 0 when the backend was unreachable.
func (e *TransportError) Status() int { return e.status }

// Body returns the response body or provider message when available.
func (e *TransportError) Body() string { return e.body }

// Retryable reports whether the failure is a transient server fault.
func (e *TransportError) Retryable() bool {
	return e.status == 0 || e.status >= 500
}

// RateLimited reports whether the backend throttled the request.
func (e *TransportError) RateLimited() bool {
	return e.status == 429
}

func (e *TransportError) Error() string {
	op := e.operation
	if op == "" {
		op = "request"
	}
	msg := e.body
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "transport error"
	}
	if e.status > 0 {
		return fmt.Sprintf("%s %s: status %d: %s", e.provider, op, e.status, msg)
	}
	return fmt.Sprintf("%s %s: %s", e.provider, op, msg)
}

// Unwrap returns the underlying SDK error.
func (e *TransportError) Unwrap() error { return e.cause }

// AsTransportError returns the first TransportError in err's chain, if any.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// NewValidationError formats a ValidationError.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func (e *SummarizationFailure) Error() string {
	if e.Cause == nil {
		return "summarization failed"
	}
	return "summarization failed: " + e.Cause.Error()
}

func (e *SummarizationFailure) Unwrap() error { return e.Cause }
