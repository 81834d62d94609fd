package types

import (
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrorCodeInvalidRequest           ErrorCode = "invalid_request"
	ErrorCodeDoRequestFailed          ErrorCode = "do_request_failed"
	ErrorCodeUpstreamError            ErrorCode = "upstream_error"
	ErrorCodeUpstreamTimeout          ErrorCode = "upstream_timeout"
	ErrorCodeMalformedResponse        ErrorCode = "malformed_response"
	ErrorCodeConcurrencyExceeded      ErrorCode = "concurrency_exceeded"
	ErrorCodeNoAvailableAccount       ErrorCode = "no_available_account"
	ErrorCodePinnedAccountUnavailable ErrorCode = "pinned_account_unavailable"
	ErrorCodeAllAttemptsFailed        ErrorCode = "all_attempts_failed"
)

// RelayError is the single error type crossing component boundaries. It
// carries the upstream HTTP status (0 for transport-level failures) and a
// stable machine-readable code.
type RelayError struct {
	StatusCode int
	Code       ErrorCode
	Message    string
	Err        error
}

func (e *RelayError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

func NewRelayError(statusCode int, code ErrorCode, message string) *RelayError {
	return &RelayError{StatusCode: statusCode, Code: code, Message: message}
}

func NewRelayErrorf(statusCode int, code ErrorCode, format string, args ...any) *RelayError {
	return &RelayError{StatusCode: statusCode, Code: code, Message: fmt.Sprintf(format, args...)}
}

func WrapRelayError(err error, statusCode int, code ErrorCode, message string) *RelayError {
	return &RelayError{StatusCode: statusCode, Code: code, Message: message, Err: err}
}

// IsRetryable reports whether the failure may succeed on a different account.
// Only malformed client input and conditions independent of account health
// stop the failover loop.
func (e *RelayError) IsRetryable() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case ErrorCodeInvalidRequest, ErrorCodeNoAvailableAccount, ErrorCodePinnedAccountUnavailable:
		return false
	}
	if e.StatusCode == http.StatusBadRequest ||
		e.StatusCode == http.StatusNotFound ||
		e.StatusCode == http.StatusRequestEntityTooLarge ||
		e.StatusCode == http.StatusUnprocessableEntity {
		// permanent rejections of the request itself
		return false
	}
	return true
}

// IsLocalError reports whether the error was produced by this gateway rather
// than an upstream, and therefore must never feed the health state machine.
func (e *RelayError) IsLocalError() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case ErrorCodeConcurrencyExceeded, ErrorCodeNoAvailableAccount, ErrorCodePinnedAccountUnavailable, ErrorCodeInvalidRequest:
		return true
	}
	return false
}
