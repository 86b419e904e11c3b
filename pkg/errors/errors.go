package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrDisposed indicates that an event source was used after Dispose
	ErrDisposed = errors.New("event source disposed")

	// ErrNotConnected indicates that the client is not connected to NATS
	ErrNotConnected = errors.New("not connected to NATS")

	// ErrInvalidMessage indicates that a message could not be decoded or is incomplete
	ErrInvalidMessage = errors.New("invalid message")

	// ErrPublishFailed indicates that a message could not be published
	ErrPublishFailed = errors.New("publish failed")

	// ErrSubscriptionFailed indicates that a subscription could not be created
	ErrSubscriptionFailed = errors.New("subscription failed")

	// ErrInvalidConfig indicates that a configuration value is missing or out of range
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownSystem indicates that a system id is not present in the catalog
	ErrUnknownSystem = errors.New("unknown system")
)

// Error codes used with Error.
const (
	CodeDisposed           = "DISPOSED"
	CodeConnectionFailed   = "CONNECTION_FAILED"
	CodeSubscriptionFailed = "SUBSCRIPTION_FAILED"
	CodePublishFailed      = "PUBLISH_FAILED"
	CodeDecodeFailed       = "DECODE_FAILED"
	CodeSessionLimit       = "SESSION_LIMIT"
	CodeRateLimited        = "RATE_LIMITED"
)

// Error represents a structured error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsDisposed checks if an error is a disposed error
func IsDisposed(err error) bool {
	return errors.Is(err, ErrDisposed)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
