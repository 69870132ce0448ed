package jobrouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"soika/jobrouter/internal/transport"
	"soika/jobrouter/pkg/logger"
)

const emitRetryInterval = 50 * time.Millisecond

// Emit validates payload against kind's contract and enqueues it. Nothing
// reaches the transport unless validation passes.
func (r *Router) Emit(ctx context.Context, kind string, payload any, opts ...DeliveryOption) error {
	_, err := r.EmitID(ctx, kind, payload, opts...)
	return err
}

// EmitID is Emit returning the substrate message id.
func (r *Router) EmitID(ctx context.Context, kind string, payload any, opts ...DeliveryOption) (string, error) {
	def, err := r.registry.Resolve(kind)
	if err != nil {
		r.log.Warnf(ctx, "[Emit] %v", err)
		return "", err
	}

	raw, err := marshalPayload(payload)
	if err != nil {
		return "", &ValidationError{Kind: kind, Violations: []Violation{{Rule: "json", Message: err.Error()}}}
	}

	in, err := def.Validate(kind, raw)
	if err != nil {
		r.log.Warnf(ctx, "[Emit] rejected %s: %v", kind, err)
		return "", err
	}

	validated, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("emit %s: %w", kind, err)
	}

	options := applyOptions(def.Options(), opts)
	if options.MaxAttempts <= 0 {
		options.MaxAttempts = r.defaultMaxAttempts
	}

	// an emitting request's trace id follows the job into the workers
	requestID := logger.TraceID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	env := &Envelope{
		Kind:      kind,
		Payload:   validated,
		Options:   options,
		RequestID: requestID,
		EmittedAt: time.Now().UTC(),
	}
	body, err := encodeEnvelope(env)
	if err != nil {
		return "", err
	}

	sendOpts := transport.SendOptions{
		Delay:       options.Delay,
		Priority:    options.Priority,
		MaxAttempts: options.MaxAttempts,
	}

	id, err := r.send(ctx, body, sendOpts)
	if err != nil {
		r.log.Errorf(ctx, "[Emit] send %s failed: %v", kind, err)
		if !errors.Is(err, ErrTransportUnavailable) {
			return "", fmt.Errorf("emit %s: %w: %v", kind, ErrTransportUnavailable, err)
		}
		return "", fmt.Errorf("emit %s: %w", kind, err)
	}

	r.log.Debugf(ctx, "[Emit] %s queued as %s (request %s)", kind, id, env.RequestID)
	return id, nil
}

// send hands body to the transport. A send that finds the connection gone
// is retried once the transport is back, for at most emitWait in total.
func (r *Router) send(ctx context.Context, body []byte, opts transport.SendOptions) (string, error) {
	if r.emitWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.emitWait)
		defer cancel()
	}

	for {
		id, err := r.transport.Send(ctx, body, opts)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrTransportUnavailable) || errors.Is(err, transport.ErrClosed) {
			return "", err
		}

		select {
		case <-ctx.Done():
			return "", err
		case <-time.After(emitRetryInterval):
		}
	}
}

func marshalPayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}

// Emit is the typed form of Router.Emit. It fails with ErrKindMismatch when
// kind was not defined with input type T.
func Emit[T any](ctx context.Context, r *Router, kind string, in T, opts ...DeliveryOption) error {
	if err := r.checkInputType(kind, reflect.TypeOf((*T)(nil)).Elem()); err != nil {
		return err
	}
	return r.Emit(ctx, kind, in, opts...)
}

// Emitter emits one kind with a typed input.
type Emitter[T any] func(ctx context.Context, in T, opts ...DeliveryOption) error

// EmitterFor returns a typed emitter for kind.
func EmitterFor[T any](r *Router, kind string) (Emitter[T], error) {
	if err := r.checkInputType(kind, reflect.TypeOf((*T)(nil)).Elem()); err != nil {
		return nil, err
	}
	return func(ctx context.Context, in T, opts ...DeliveryOption) error {
		return r.Emit(ctx, kind, in, opts...)
	}, nil
}

func (r *Router) checkInputType(kind string, t reflect.Type) error {
	def, err := r.registry.Resolve(kind)
	if err != nil {
		return err
	}
	if def.InputType() != t {
		return fmt.Errorf("%w: %s takes %s, not %s", ErrKindMismatch, kind, def.InputType(), t)
	}
	return nil
}
