package core

import "errors"

// ErrorCode represents a machine-readable failure identifier attached by transport adapters.
type ErrorCode string

const (
	// ErrCodeAuthRejected indicates the server refused the handshake credential.
	ErrCodeAuthRejected ErrorCode = "AUTH_REJECTED"
	// ErrCodeTokenExpired indicates the credential was rejected as expired.
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"
	// ErrCodeHandshake indicates the handshake failed for a non-auth reason.
	ErrCodeHandshake ErrorCode = "HANDSHAKE_FAILED"
	// ErrCodeNetwork indicates a network connectivity failure.
	ErrCodeNetwork ErrorCode = "NETWORK_ERROR"
	// ErrCodeUnsupportedTransport indicates none of the requested transports are available.
	ErrCodeUnsupportedTransport ErrorCode = "UNSUPPORTED_TRANSPORT"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// Client state errors
	ErrCodeClosed       ErrorCode = "CLOSED"
	ErrCodeNotConnected ErrorCode = "NOT_CONNECTED"

	// Refresh errors
	ErrCodeRefreshFailed ErrorCode = "REFRESH_FAILED"
	ErrCodeBreakerOpen   ErrorCode = "CIRCUIT_BREAKER_OPEN"
)

// IsErrorCode checks if the error carries the specified error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var e *ConnError
	if errors.As(err, &e) {
		return ErrorCode(e.Code) == code
	}
	return false
}
