package jobrouter

import "time"

type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff is the delay between redeliveries of a failed job.
type Backoff struct {
	Type  BackoffType   `json:"type,omitempty"`
	Delay time.Duration `json:"delay,omitempty"`
	Max   time.Duration `json:"max,omitempty"`
}

// Next returns the delay after failed attempt n (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}

	d := b.Delay
	if b.Type == BackoffExponential {
		for i := 1; i < attempt; i++ {
			d *= 2
			if b.Max > 0 && d >= b.Max {
				return b.Max
			}
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// DeliveryOptions control how a job is enqueued and redelivered.
type DeliveryOptions struct {
	Delay       time.Duration `json:"delay,omitempty"`
	Priority    int           `json:"priority,omitempty"`
	MaxAttempts int           `json:"max_attempts,omitempty"` // 0 = router default
	Backoff     Backoff       `json:"backoff,omitempty"`
}

type DeliveryOption func(*DeliveryOptions)

// WithDelay postpones the first delivery by d.
func WithDelay(d time.Duration) DeliveryOption {
	return func(o *DeliveryOptions) { o.Delay = d }
}

// WithPriority sets the priority; higher is delivered first where the
// substrate supports it.
func WithPriority(p int) DeliveryOption {
	return func(o *DeliveryOptions) { o.Priority = p }
}

// WithMaxAttempts caps deliveries, the first one included.
func WithMaxAttempts(n int) DeliveryOption {
	return func(o *DeliveryOptions) { o.MaxAttempts = n }
}

// WithBackoff sets the delay between redeliveries.
func WithBackoff(b Backoff) DeliveryOption {
	return func(o *DeliveryOptions) { o.Backoff = b }
}

// WithFixedBackoff waits d before every redelivery.
func WithFixedBackoff(d time.Duration) DeliveryOption {
	return WithBackoff(Backoff{Type: BackoffFixed, Delay: d})
}

// WithExponentialBackoff doubles the delay from initial on each attempt, up
// to max.
func WithExponentialBackoff(initial, max time.Duration) DeliveryOption {
	return WithBackoff(Backoff{Type: BackoffExponential, Delay: initial, Max: max})
}

func applyOptions(base DeliveryOptions, opts []DeliveryOption) DeliveryOptions {
	for _, opt := range opts {
		if opt != nil {
			opt(&base)
		}
	}
	return base
}
