package core

import "errors"

// ErrorCode represents a stable, machine-readable error identifier.
type ErrorCode string

// Error code constants.
const (
	ErrCodeUnknown       ErrorCode = "UNKNOWN"
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeNoCredentials ErrorCode = "NO_CREDENTIALS"
	ErrCodeInvalidKey    ErrorCode = "INVALID_KEY"

	// Connection state errors
	ErrCodeNotConnected ErrorCode = "NOT_CONNECTED"
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// Channel errors
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED_CHANNEL"
	ErrCodeUnknownChannel  ErrorCode = "UNKNOWN_CHANNEL"

	// Socket errors
	ErrCodeSocketFault    ErrorCode = "SOCKET_FAULT"
	ErrCodeExchangeError  ErrorCode = "EXCHANGE_ERROR"
	ErrCodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeReconnectAbort ErrorCode = "RECONNECT_ABORTED"
)

func defaultCode(t ErrorType) ErrorCode {
	switch t {
	case ErrorTypeConfiguration:
		return ErrCodeInvalidConfig
	case ErrorTypeNotOpen:
		return ErrCodeNotConnected
	case ErrorTypeUnauthenticatedChannel:
		return ErrCodeUnauthenticated
	case ErrorTypeTransientSocket:
		return ErrCodeSocketFault
	case ErrorTypeConnectionClosed:
		return ErrCodeRetryExhausted
	case ErrorTypeInvalidChannel:
		return ErrCodeUnknownChannel
	case ErrorTypeInvalidState:
		return ErrCodeInvalidState
	default:
		return ErrCodeUnknown
	}
}

// IsErrorCode checks if the error matches the specified error code.
func IsErrorCode(err error, code ErrorCode) bool {
	var se *StreamError
	if errors.As(err, &se) {
		return ErrorCode(se.Code) == code
	}
	return false
}
