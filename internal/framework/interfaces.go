package framework

import (
	"context"
	"time"
)

// MessageSource is the consume side of a queue substrate.
type MessageSource interface {
	// Receive blocks up to opts.Wait. It returns (nil, nil) when nothing arrived.
	Receive(ctx context.Context, queue string, opts ReceiveOptions) (*Message, error)

	// Ack removes the message for good.
	Ack(ctx context.Context, msg *Message) error

	// Nack gives the message back. requeue=false dead-letters it.
	Nack(ctx context.Context, msg *Message, requeue bool, delay time.Duration) error
}

type Logger interface {
	Debugf(ctx context.Context, format string, args ...interface{})
	Infof(ctx context.Context, format string, args ...interface{})
	Warnf(ctx context.Context, format string, args ...interface{})
	Errorf(ctx context.Context, format string, args ...interface{})
}

// OutcomeObserver is told about every finished message, after ack or nack.
type OutcomeObserver interface {
	Observe(ctx context.Context, msg *Message, resp *JobResp)
}
