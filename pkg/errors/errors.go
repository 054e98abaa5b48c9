package errors

import (
	"context"
	"errors"
	"fmt"
)

type ProbeError struct {
	Code    string
	Message string
	Cause   error
	Client  string
}

func (e *ProbeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProbeError) Unwrap() error { return e.Cause }

const (
	ErrCodeTransport            = "TRANSPORT_ERROR"
	ErrCodeDecode               = "DECODE_ERROR"
	ErrCodeDeadlineExceeded     = "DEADLINE_EXCEEDED"
	ErrCodeChannelClosed        = "CHANNEL_CLOSED"
	ErrCodeInvalidTest          = "INVALID_TEST"
	ErrCodeInvalidClient        = "INVALID_CLIENT"
	ErrCodeDirectoryUnavailable = "DIRECTORY_UNAVAILABLE"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
)

func ErrTransport(client, msg string, cause error) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeTransport,
		Message: msg,
		Cause:   cause,
		Client:  client,
	}
}

func ErrDecode(client string, cause error) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeDecode,
		Message: "malformed echo payload",
		Cause:   cause,
		Client:  client,
	}
}

func ErrDeadlineExceeded(client string, cause error) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeDeadlineExceeded,
		Message: "no reply before deadline",
		Cause:   cause,
		Client:  client,
	}
}

func ErrChannelClosed(client string) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeChannelClosed,
		Message: "subscription closed before a reply arrived",
		Client:  client,
	}
}

func ErrInvalidTest(msg string) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeInvalidTest,
		Message: msg,
	}
}

func ErrInvalidClient(client, msg string) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeInvalidClient,
		Message: msg,
		Client:  client,
	}
}

func ErrDirectoryUnavailable(cause error) *ProbeError {
	return &ProbeError{
		Code:    ErrCodeDirectoryUnavailable,
		Message: "client directory unavailable",
		Cause:   cause,
	}
}

func ErrRateLimitExceeded() *ProbeError {
	return &ProbeError{
		Code:    ErrCodeRateLimitExceeded,
		Message: "rate limit exceeded",
	}
}

// HasCode reports whether err is a ProbeError carrying code.
func HasCode(err error, code string) bool {
	var probeErr *ProbeError
	return errors.As(err, &probeErr) && probeErr.Code == code
}

func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
