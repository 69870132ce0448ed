package transport

import (
	"context"
	"errors"
	"time"

	"soika/jobrouter/internal/framework"
)

var (
	// ErrUnavailable is returned when the substrate cannot be reached.
	ErrUnavailable = errors.New("transport unavailable")

	// ErrConnectionLost is wrapped by drivers when an operation failed
	// because the connection is gone. It moves the Adapter to
	// StateDisconnected and starts a reconnect.
	ErrConnectionLost = errors.New("connection lost")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport closed")
)

// SendOptions are the delivery options a driver applies to one message.
type SendOptions struct {
	Delay       time.Duration
	Priority    int
	MaxAttempts int // 0 = driver default
}

// ReceiveOptions control a single pull.
type ReceiveOptions = framework.ReceiveOptions

// Driver is a queue substrate client. Drivers return errors wrapping
// ErrConnectionLost for connectivity faults and plain errors otherwise.
type Driver interface {
	Connect(ctx context.Context) error
	Close() error
	DeclareQueue(ctx context.Context, name string, durable bool) error
	Send(ctx context.Context, queue string, body []byte, opts SendOptions) (string, error)
	// Receive returns (nil, nil) when the wait elapsed with nothing to deliver.
	Receive(ctx context.Context, queue string, opts ReceiveOptions) (*framework.Message, error)
	Ack(ctx context.Context, msg *framework.Message) error
	Nack(ctx context.Context, msg *framework.Message, requeue bool, delay time.Duration) error
}

// Sender is the emit side of an Adapter.
type Sender interface {
	Send(ctx context.Context, body []byte, opts SendOptions) (string, error)
}

// Lost wraps err so that it matches ErrConnectionLost.
func Lost(err error) error {
	if err == nil {
		return nil
	}
	return &lostError{err: err}
}

type lostError struct{ err error }

func (e *lostError) Error() string { return "connection lost: " + e.err.Error() }

func (e *lostError) Unwrap() []error { return []error{ErrConnectionLost, e.err} }
