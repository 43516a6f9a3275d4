package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of a connection failure.
type ErrorType int

// Error type constants categorize failures for retry decisions.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNoCredential indicates no valid token was available to connect with.
	ErrorTypeNoCredential
	// ErrorTypeAuthRejected indicates the server rejected the presented credential.
	ErrorTypeAuthRejected
	// ErrorTypeTransport indicates a network or IO failure.
	ErrorTypeTransport
	// ErrorTypeMaxAttemptsExceeded indicates the reconnect budget is exhausted.
	ErrorTypeMaxAttemptsExceeded
	// ErrorTypeInvalidConfig indicates the configuration failed validation.
	ErrorTypeInvalidConfig
	// ErrorTypeClosed indicates the component has been shut down.
	ErrorTypeClosed
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeNoCredential:
		return "NO_CREDENTIAL"
	case ErrorTypeAuthRejected:
		return "AUTH_REJECTED"
	case ErrorTypeTransport:
		return "TRANSPORT_FAILURE"
	case ErrorTypeMaxAttemptsExceeded:
		return "MAX_ATTEMPTS_EXCEEDED"
	case ErrorTypeInvalidConfig:
		return "INVALID_CONFIG"
	case ErrorTypeClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Sentinel errors for common error conditions.
var (
	// ErrNoCredential is recorded when a connect is requested without a valid token.
	ErrNoCredential = errors.New("no valid credential")
	// ErrMaxAttemptsExceeded is recorded when the manager enters the failed state.
	ErrMaxAttemptsExceeded = errors.New("max reconnect attempts exceeded")
	// ErrNotConnected is returned when sending without a live connection.
	ErrNotConnected = errors.New("realtime connection not established")
	// ErrManagerClosed is returned when using a closed manager.
	ErrManagerClosed = errors.New("manager is closed")
	// ErrBreakerOpen is returned when the refresh circuit breaker rejects a call.
	ErrBreakerOpen = errors.New("circuit breaker is open")
)

// ConnError is a structured connection failure.
// Transport adapters attach a Code so callers do not have to inspect message text.
type ConnError struct {
	Type      ErrorType `json:"type"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface for ConnError.
func (e *ConnError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the underlying cause.
func (e *ConnError) Unwrap() error {
	return e.Cause
}

// NewConnError creates a new ConnError with the current timestamp.
func NewConnError(errorType ErrorType, message string, cause error) *ConnError {
	return &ConnError{
		Type:      errorType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewConnErrorWithCode creates a new ConnError carrying a structured error code.
func NewConnErrorWithCode(errorType ErrorType, code ErrorCode, message string, cause error) *ConnError {
	e := NewConnError(errorType, message, cause)
	e.Code = string(code)
	return e
}

// IsAuthError returns true if the error is a credential rejection.
// Retrying without a new credential is expected to fail the same way.
func IsAuthError(err error) bool {
	var e *ConnError
	if errors.As(err, &e) {
		return e.Type == ErrorTypeAuthRejected
	}
	return false
}

// IsTransportError returns true if the error is a network or IO failure.
func IsTransportError(err error) bool {
	var e *ConnError
	if errors.As(err, &e) {
		return e.Type == ErrorTypeTransport
	}
	return false
}
