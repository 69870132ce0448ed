package framework

import (
	"context"
	"time"
)

// Message is a job as pulled off the queue substrate.
type Message struct {
	ID          string // substrate message id
	Queue       string
	Data        []byte // encoded envelope
	Attempt     int    // 1 on first delivery
	MaxAttempts int    // 0 when the substrate does not report it
	// Receipt is driver-owned state needed to ack or nack this delivery.
	Receipt interface{}
}

// Action tells the Processor what to do with a message after Proc ran.
type Action int

const (
	// ActionSuccess acks the message.
	ActionSuccess Action = iota
	// ActionRelease hands the message back for redelivery after RetryIn.
	ActionRelease
	// ActionBury moves the message to the dead letter.
	ActionBury
)

// String is the lower-case action name used in logs, metrics and events.
func (a Action) String() string {
	switch a {
	case ActionSuccess:
		return "success"
	case ActionRelease:
		return "release"
	case ActionBury:
		return "bury"
	default:
		return "unknown"
	}
}

// JobResp is the outcome of processing one message.
type JobResp struct {
	Action  Action
	RetryIn time.Duration
	Kind    string // job kind when the envelope could be decoded

	// Unsupported marks a Kind nothing is registered for. Metrics label
	// such jobs "unknown".
	Unsupported bool
	Err         error
}

// Proc processes one message and decides its fate.
type Proc func(ctx context.Context, msg *Message) *JobResp

// ReceiveOptions control a single pull.
type ReceiveOptions struct {
	Wait       time.Duration // long-poll wait, 0 = non-blocking
	Visibility time.Duration // how long the claim is held before redelivery
}
