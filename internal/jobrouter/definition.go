package jobrouter

import (
	"context"
	"fmt"
	"reflect"
)

// HandlerFunc handles one validated job input.
type HandlerFunc[T any] func(ctx context.Context, in T) error

// Definition is the type-erased view of a job kind held by a Registry.
type Definition interface {
	// InputType is the Go type payloads are decoded into.
	InputType() reflect.Type
	// Validate decodes raw JSON and enforces the input contract.
	Validate(kind string, raw []byte) (any, error)
	// Handle runs the handler on a value returned by Validate.
	Handle(ctx context.Context, in any) error
	// Options are the default delivery options of the kind.
	Options() DeliveryOptions
}

// Contract is a job input contract under construction: the struct tags on
// T plus any refinements added with Check.
type Contract[T any] struct {
	checks []func(*T) error
	opts   []DeliveryOption
}

// DefineJob starts a job definition for input type T. T's fields carry
// `json` and `validate` tags; opts become the kind's default delivery
// options.
func DefineJob[T any](opts ...DeliveryOption) *Contract[T] {
	return &Contract[T]{opts: opts}
}

// Check adds a refinement run after tag validation. Return Invalid(...) to
// report a specific field.
func (c *Contract[T]) Check(fn func(*T) error) *Contract[T] {
	checks := make([]func(*T) error, 0, len(c.checks)+1)
	checks = append(checks, c.checks...)
	checks = append(checks, fn)
	return &Contract[T]{checks: checks, opts: c.opts}
}

// Handler completes the definition. The returned Job is immutable.
func (c *Contract[T]) Handler(fn HandlerFunc[T]) *Job[T] {
	return &Job[T]{
		checks:  append([]func(*T) error(nil), c.checks...),
		handler: fn,
		options: applyOptions(DeliveryOptions{}, c.opts),
	}
}

// Job is a complete definition of a job kind with input type T.
type Job[T any] struct {
	checks  []func(*T) error
	handler HandlerFunc[T]
	options DeliveryOptions
}

var _ Definition = (*Job[struct{}])(nil)

// InputType returns the reflect type of T.
func (j *Job[T]) InputType() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Parse decodes and validates raw into T.
func (j *Job[T]) Parse(kind string, raw []byte) (T, error) {
	return decodeInput[T](kind, raw, j.checks)
}

// Validate decodes raw into T and runs the struct tags and checks.
func (j *Job[T]) Validate(kind string, raw []byte) (any, error) {
	return j.Parse(kind, raw)
}

// Handle calls the handler with in, which must be a T.
func (j *Job[T]) Handle(ctx context.Context, in any) error {
	v, ok := in.(T)
	if !ok {
		return fmt.Errorf("%w: got %T, want %s", ErrKindMismatch, in, j.InputType())
	}
	if j.handler == nil {
		return fmt.Errorf("no handler for %s", j.InputType())
	}
	return j.handler(ctx, v)
}

// Options returns the kind's default delivery options.
func (j *Job[T]) Options() DeliveryOptions {
	return j.options
}
