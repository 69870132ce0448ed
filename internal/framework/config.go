package framework

import "time"

type SubscriberConfig struct {
	QueueName    string
	Concurrency  int           // parallel pull loops
	Timeout      time.Duration // long-poll wait per pull
	TTR          time.Duration // visibility of a claimed message
	Rate         float64       // pulls per second across all loops, 0 = unlimited
	ErrorBackoff time.Duration // pause after a failed pull
}

type ProcessorConfig struct {
	Concurrency int           // parallel handlers
	Timeout     time.Duration // deadline set on the handler context
}
