package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of a streaming client error.
type ErrorType int

// Error type constants categorize errors so callers can decide whether to retry,
// reconnect or give up.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeConfiguration indicates a missing credential or invalid configuration.
	ErrorTypeConfiguration
	// ErrorTypeNotOpen indicates an operation that requires an open socket.
	ErrorTypeNotOpen
	// ErrorTypeUnauthenticatedChannel indicates an auth-only channel used without credentials.
	ErrorTypeUnauthenticatedChannel
	// ErrorTypeTransientSocket indicates a socket fault recorded on the receive path.
	ErrorTypeTransientSocket
	// ErrorTypeConnectionClosed indicates reconnection attempts were exhausted.
	ErrorTypeConnectionClosed
	// ErrorTypeInvalidChannel indicates a channel name the client does not know.
	ErrorTypeInvalidChannel
	// ErrorTypeInvalidState indicates an operation not allowed in the current connection state.
	ErrorTypeInvalidState
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"CONFIGURATION",
		"NOT_OPEN",
		"UNAUTHENTICATED_CHANNEL",
		"TRANSIENT_SOCKET",
		"CONNECTION_CLOSED",
		"INVALID_CHANNEL",
		"INVALID_STATE",
	}[t]
}

// Sentinel errors for common error conditions. They match any StreamError of
// the same type through errors.Is.
var (
	ErrConfiguration          = &StreamError{Type: ErrorTypeConfiguration}
	ErrNotOpen                = &StreamError{Type: ErrorTypeNotOpen}
	ErrUnauthenticatedChannel = &StreamError{Type: ErrorTypeUnauthenticatedChannel}
	ErrTransientSocket        = &StreamError{Type: ErrorTypeTransientSocket}
	ErrConnectionClosed       = &StreamError{Type: ErrorTypeConnectionClosed}
	ErrInvalidChannel         = &StreamError{Type: ErrorTypeInvalidChannel}
	ErrInvalidState           = &StreamError{Type: ErrorTypeInvalidState}
)

// StreamError represents a structured error raised by the streaming client.
type StreamError struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// Code is the stable machine-readable error code.
	Code string `json:"code"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// Channel is the channel involved, if any.
	Channel string `json:"channel,omitempty"`
	// Err is the underlying cause, if any.
	Err error `json:"-"`
	// Timestamp is when the error occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface for StreamError.
func (e *StreamError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Type.String()
	}
	if e.Channel != "" {
		msg = fmt.Sprintf("%s (channel %s)", msg, e.Channel)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the underlying cause.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a StreamError of the same type.
func (e *StreamError) Is(target error) bool {
	t, ok := target.(*StreamError)
	if !ok {
		return false
	}
	return t.Type == e.Type
}

// WithCode sets the error code and returns the error for chaining.
func (e *StreamError) WithCode(code ErrorCode) *StreamError {
	e.Code = string(code)
	return e
}

// WithChannel sets the channel and returns the error for chaining.
func (e *StreamError) WithChannel(channel string) *StreamError {
	e.Channel = channel
	return e
}

// NewStreamError creates a new StreamError with the default code for its type.
// The timestamp is automatically set to the current time.
func NewStreamError(errorType ErrorType, message string, cause error) *StreamError {
	return &StreamError{
		Type:      errorType,
		Code:      string(defaultCode(errorType)),
		Message:   message,
		Err:       cause,
		Timestamp: time.Now(),
	}
}

// NewConfigurationError reports a missing credential or invalid configuration.
func NewConfigurationError(message string) *StreamError {
	return NewStreamError(ErrorTypeConfiguration, message, nil)
}

// NewNotOpenError reports an operation attempted while the socket is not open.
func NewNotOpenError(state string) *StreamError {
	return NewStreamError(ErrorTypeNotOpen, "websocket is not open (state "+state+")", nil)
}

// NewUnauthenticatedChannelError reports an auth-only channel used without credentials.
func NewUnauthenticatedChannelError(channel string) *StreamError {
	return NewStreamError(ErrorTypeUnauthenticatedChannel, "unauthenticated request to private channel", nil).
		WithChannel(channel)
}

// NewTransientSocketError wraps a socket fault observed on the receive path.
func NewTransientSocketError(cause error) *StreamError {
	return NewStreamError(ErrorTypeTransientSocket, "websocket fault", cause)
}

// NewConnectionClosedError reports that the connection is terminally closed.
func NewConnectionClosedError(message string, cause error) *StreamError {
	return NewStreamError(ErrorTypeConnectionClosed, message, cause)
}

// NewInvalidChannelError reports an unknown channel name.
func NewInvalidChannelError(channel string) *StreamError {
	return NewStreamError(ErrorTypeInvalidChannel, "unknown channel", nil).WithChannel(channel)
}

// NewInvalidStateError reports an operation that is not allowed in the given state.
func NewInvalidStateError(operation, state string) *StreamError {
	return NewStreamError(ErrorTypeInvalidState, fmt.Sprintf("invalid state for %s: %s", operation, state), nil)
}

func isType(err error, t ErrorType) bool {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Type == t
	}
	return false
}

// IsConfigurationError returns true if the error is caused by missing credentials or bad config.
func IsConfigurationError(err error) bool {
	return isType(err, ErrorTypeConfiguration)
}

// IsNotOpenError returns true if the error was raised because the socket is not open.
func IsNotOpenError(err error) bool {
	return isType(err, ErrorTypeNotOpen)
}

// IsUnauthenticatedChannelError returns true if an auth-only channel was used without credentials.
func IsUnauthenticatedChannelError(err error) bool {
	return isType(err, ErrorTypeUnauthenticatedChannel)
}

// IsTransientSocketError returns true if the error is a recorded socket fault.
// Transient socket errors may be resolved by reconnecting.
func IsTransientSocketError(err error) bool {
	return isType(err, ErrorTypeTransientSocket)
}

// IsConnectionClosedError returns true if reconnection was exhausted.
// The client must be connected again before further use.
func IsConnectionClosedError(err error) bool {
	return isType(err, ErrorTypeConnectionClosed)
}

// IsTerminalError returns true if retrying the same call cannot succeed without caller action.
func IsTerminalError(err error) bool {
	return IsConfigurationError(err) ||
		IsUnauthenticatedChannelError(err) ||
		IsConnectionClosedError(err) ||
		isType(err, ErrorTypeInvalidChannel)
}
