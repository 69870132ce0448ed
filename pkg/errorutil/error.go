package errorutil

import (
	"errors"
	"fmt"
)

// Error carries a retry hint alongside the message. Handlers return it to
// tell the worker pool whether a failed job is worth another delivery.
type Error struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	DevDetails string `json:"dev_details,omitempty"`
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil && e.cause.Error() != e.Message {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Retriable builds an error for transient faults (network, upstream 5xx).
func Retriable(message string) *Error {
	return &Error{
		Code:      500,
		Message:   message,
		Retryable: true,
	}
}

// RetriableWithDetails is Retriable with extra developer detail.
func RetriableWithDetails(message string, details string) *Error {
	return &Error{
		Code:       500,
		Message:    message,
		Retryable:  true,
		DevDetails: details,
	}
}

// NonRetriable builds an error that no amount of redelivery will fix.
func NonRetriable(message string) *Error {
	return &Error{
		Code:      400,
		Message:   message,
		Retryable: false,
	}
}

// NonRetriableWithDetails is NonRetriable with extra developer detail.
func NonRetriableWithDetails(message string, details string) *Error {
	return &Error{
		Code:       400,
		Message:    message,
		Retryable:  false,
		DevDetails: details,
	}
}

// Permanent marks err as non-retryable while keeping it in the chain.
func Permanent(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:      400,
		Message:   err.Error(),
		Retryable: false,
		cause:     err,
	}
}

// Wrap converts err into an *Error. Plain errors default to retryable,
// since a job handler failing without saying otherwise is given another
// delivery.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return &Error{
		Code:       500,
		Message:    err.Error(),
		Retryable:  true,
		DevDetails: fmt.Sprintf("%+v", err),
		cause:      err,
	}
}

// IsRetryable reports whether err should lead to a redelivery. nil is not
// retryable; errors without an *Error in their chain are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}

// UnWrapResponse converts err for an HTTP response body.
func UnWrapResponse(err error) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err)
}
