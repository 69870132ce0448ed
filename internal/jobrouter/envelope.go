package jobrouter

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope is the wire form of a job on the queue.
type Envelope struct {
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	Options   DeliveryOptions `json:"options"`
	RequestID string          `json:"request_id"`
	EmittedAt time.Time       `json:"emitted_at"`
}

var errMalformedEnvelope = errors.New("malformed envelope")

func encodeEnvelope(env *Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", env.Kind, err)
	}
	return b, nil
}

// decodeEnvelope reads an envelope off the wire. A missing kind or payload
// makes it malformed.
func decodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedEnvelope, err)
	}
	if env.Kind == "" {
		return nil, fmt.Errorf("%w: missing kind", errMalformedEnvelope)
	}
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", errMalformedEnvelope)
	}
	return &env, nil
}
