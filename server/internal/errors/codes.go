package errors

import (
	"fmt"
)

// ErrorCode represents a specific error type in the coaching pipeline.
type ErrorCode string

const (
	// ErrCodeProtocol indicates malformed or out-of-order input. Session-local;
	// reported with a diagnostic event while the session remains active.
	ErrCodeProtocol ErrorCode = "PROTOCOL_ERROR"
	// ErrCodeResourceExhausted indicates a session or queue limit was hit at
	// admission time.
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	// ErrCodeRetrievalUnavailable indicates the knowledge store is unreachable.
	// Recovered locally by degrading to ungrounded synthesis.
	ErrCodeRetrievalUnavailable ErrorCode = "RETRIEVAL_UNAVAILABLE"
	// ErrCodeAllProvidersUnavailable indicates every configured generation
	// provider was exhausted for a request.
	ErrCodeAllProvidersUnavailable ErrorCode = "ALL_PROVIDERS_UNAVAILABLE"
	// ErrCodeBackpressure indicates an inbound message was dropped because the
	// per-session queue was full.
	ErrCodeBackpressure ErrorCode = "BACKPRESSURE"
	// ErrCodeCancelled indicates a synthesis cycle was superseded by a newer
	// message. Internal signal only, never surfaced to the caller.
	ErrCodeCancelled ErrorCode = "CANCELLED"
	// ErrCodeProviderUnavailable indicates a single provider attempt failed.
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	// ErrCodeTimeout indicates an operation exceeded its budget.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeSessionClosed indicates an operation referenced a session that has
	// already transitioned to its terminal state.
	ErrCodeSessionClosed ErrorCode = "SESSION_CLOSED"
	// ErrCodeInvariant indicates a programming invariant was violated by the
	// pipeline's own bookkeeping. Closes the session with a diagnostic event.
	ErrCodeInvariant ErrorCode = "INVARIANT_VIOLATION"
)

// PipelineError represents a structured error for pipeline operations.
type PipelineError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *PipelineError) WithContext(key string, value any) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// GetCode returns the error code.
func (e *PipelineError) GetCode() ErrorCode {
	return e.Code
}

// Convenience constructors for common error types.

// Protocol creates a protocol error.
func Protocol(msg string) *PipelineError {
	return &PipelineError{Code: ErrCodeProtocol, Message: msg}
}

// ResourceExhausted creates a resource exhausted error.
func ResourceExhausted(msg string) *PipelineError {
	return &PipelineError{Code: ErrCodeResourceExhausted, Message: msg}
}

// RetrievalUnavailable creates a retrieval unavailable error.
func RetrievalUnavailable(cause error) *PipelineError {
	return &PipelineError{Code: ErrCodeRetrievalUnavailable, Message: "knowledge store unreachable", Cause: cause}
}

// AllProvidersUnavailable creates an all-providers-unavailable error.
func AllProvidersUnavailable(msg string) *PipelineError {
	return &PipelineError{Code: ErrCodeAllProvidersUnavailable, Message: msg}
}

// Backpressure creates a backpressure error.
func Backpressure(msg string) *PipelineError {
	return &PipelineError{Code: ErrCodeBackpressure, Message: msg}
}

// Cancelled creates a cancelled error.
func Cancelled(cause error) *PipelineError {
	return &PipelineError{Code: ErrCodeCancelled, Message: "cycle superseded", Cause: cause}
}

// ProviderUnavailable creates a provider unavailable error.
func ProviderUnavailable(providerID string, cause error) *PipelineError {
	return &PipelineError{
		Code:    ErrCodeProviderUnavailable,
		Message: fmt.Sprintf("provider %s unavailable", providerID),
		Cause:   cause,
	}
}

// Timeout creates a timeout error.
func Timeout(msg string) *PipelineError {
	return &PipelineError{Code: ErrCodeTimeout, Message: msg}
}

// SessionClosed creates a session closed error.
func SessionClosed(sessionID string) *PipelineError {
	return &PipelineError{
		Code:    ErrCodeSessionClosed,
		Message: fmt.Sprintf("session %s is closed", sessionID),
	}
}

// Invariant creates an invariant violation error.
func Invariant(msg string) *PipelineError {
	return &PipelineError{Code: ErrCodeInvariant, Message: msg}
}

// Wrap wraps an existing error with additional context.
func Wrap(cause error, code ErrorCode, msg string) *PipelineError {
	return &PipelineError{Code: code, Message: msg, Cause: cause}
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	if pErr, ok := err.(*PipelineError); ok {
		return pErr.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not a PipelineError.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	if pErr, ok := err.(*PipelineError); ok {
		return pErr.Code
	}
	return defaultCode
}
