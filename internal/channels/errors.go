package channels

import (
	"errors"
	"fmt"
)

// ErrorCode classifies adapter failures for monitoring and retry
// decisions.
type ErrorCode string

const (
	// ErrCodeConnection indicates a network failure reaching the provider.
	ErrCodeConnection ErrorCode = "CONNECTION_ERROR"

	// ErrCodeAuthentication indicates rejected provider credentials.
	ErrCodeAuthentication ErrorCode = "AUTH_ERROR"

	// ErrCodeRateLimit indicates the provider throttled the request.
	ErrCodeRateLimit ErrorCode = "RATE_LIMIT_ERROR"

	// ErrCodeInvalidInput indicates a message the provider cannot carry.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrCodeUnsupported indicates an operation the channel has no
	// delivery path for, such as free-form sends on Discord interactions.
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"

	// ErrCodeProvider indicates a provider-side failure response.
	ErrCodeProvider ErrorCode = "PROVIDER_ERROR"
)

// Error is the structured error adapters return to the bus.
type Error struct {
	Code    ErrorCode
	Channel string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s %s: %v", e.Code, e.Channel, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s %s", e.Code, e.Channel, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an adapter error.
func NewError(code ErrorCode, channel, message string, err error) *Error {
	return &Error{Code: code, Channel: channel, Message: message, Err: err}
}

// IsRetryable reports whether the failure is transient.
func IsRetryable(err error) bool {
	var chErr *Error
	if !errors.As(err, &chErr) {
		return false
	}
	switch chErr.Code {
	case ErrCodeConnection, ErrCodeRateLimit, ErrCodeProvider:
		return true
	default:
		return false
	}
}

// CodeOf extracts the error code, defaulting to provider error.
func CodeOf(err error) ErrorCode {
	var chErr *Error
	if errors.As(err, &chErr) {
		return chErr.Code
	}
	return ErrCodeProvider
}
