package jobrouter

import (
	"errors"
	"fmt"
	"strings"

	"soika/jobrouter/internal/transport"
)

var (
	ErrUnknownJobKind   = errors.New("unknown job kind")
	ErrDuplicateJobKind = errors.New("duplicate job kind")
	ErrInvalidPayload   = errors.New("invalid payload")
	// ErrTransportUnavailable is matched by every emit that failed to reach
	// the queue substrate.
	ErrTransportUnavailable = transport.ErrUnavailable
	ErrHandlerFailure       = errors.New("handler failure")
	// ErrKindMismatch is returned by the typed emit helpers when the kind's
	// input type differs from the caller's.
	ErrKindMismatch = errors.New("job kind input type mismatch")
	ErrSealed       = errors.New("registry sealed")
)

// Violation is one broken rule of an input contract. It can be returned
// from a Check to point at a specific field.
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (v Violation) Error() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// Invalid builds a Violation for use inside a Check.
func Invalid(field, message string) error {
	return Violation{Field: field, Rule: "check", Message: message}
}

// ValidationError reports every violation found in a payload. It matches
// ErrInvalidPayload.
type ValidationError struct {
	Kind       string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Error())
	}
	return fmt.Sprintf("invalid payload for %s: %s", e.Kind, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidPayload
}

// HandlerError wraps an error returned by a job handler. It matches
// ErrHandlerFailure and unwraps to the handler's error.
type HandlerError struct {
	Kind    string
	Attempt int
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("job %s attempt %d failed: %v", e.Kind, e.Attempt, e.Err)
}

func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerFailure
}

// Unwrap returns the handler's own error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}
