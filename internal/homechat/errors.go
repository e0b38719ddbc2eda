package homechat

import (
	"errors"
	"fmt"
)

// ErrorCode classifies client failures for logging, metrics, and retry
// decisions.
type ErrorCode string

const (
	// ErrCodeConnection indicates a transport-level failure (DNS, connect,
	// timeout) before an HTTP status was received.
	ErrCodeConnection ErrorCode = "CONNECTION_ERROR"

	// ErrCodeAuthentication indicates the server rejected the API token.
	ErrCodeAuthentication ErrorCode = "AUTH_ERROR"

	// ErrCodeInvalidInput indicates a malformed request that never left
	// the client.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrCodeNotFound indicates the requested resource does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeTimeout indicates the bounded request timeout elapsed.
	ErrCodeTimeout ErrorCode = "TIMEOUT_ERROR"

	// ErrCodeInternal indicates an unexpected failure.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is a structured client error with a code and an optional
// underlying cause.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error so errors.Is and errors.As work.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrConnection creates a connection error.
func ErrConnection(message string, err error) *Error {
	return &Error{Code: ErrCodeConnection, Message: message, Err: err}
}

// ErrInvalidInput creates an invalid input error.
func ErrInvalidInput(message string, err error) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: message, Err: err}
}

// ErrInternal creates an internal error.
func ErrInternal(message string, err error) *Error {
	return &Error{Code: ErrCodeInternal, Message: message, Err: err}
}

// RequestError is returned for any HomeChat response outside the 2xx
// range. It carries the status and (truncated) body so callers can make
// status-specific decisions, most importantly the coordinator's 401
// escalation.
type RequestError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("homechat %s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Code maps the HTTP status onto an ErrorCode.
func (e *RequestError) Code() ErrorCode {
	switch {
	case e.StatusCode == 401 || e.StatusCode == 403:
		return ErrCodeAuthentication
	case e.StatusCode == 404:
		return ErrCodeNotFound
	default:
		return ErrCodeInternal
	}
}

// IsAuthError reports whether err is a RequestError with HTTP 401.
func IsAuthError(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.StatusCode == 401
}

// IsRetryable reports whether err is plausibly transient: a transport
// failure, a timeout, or a server-side status. No caller retries
// automatically; this informs logging and operator judgement.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCodeConnection || e.Code == ErrCodeTimeout
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode == 429 || reqErr.StatusCode >= 500
	}
	return false
}

// StatusCode extracts the HTTP status from err, or 0 when err is not a
// RequestError.
func StatusCode(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	return 0
}
