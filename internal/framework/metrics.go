package framework

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const unknownKind = "unknown"

// Metrics holds the processing collectors for every pool in the process.
type Metrics struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  *prometheus.GaugeVec
}

// NewMetrics registers the collectors on reg. A nil reg leaves them
// unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobrouter",
			Name:      "jobs_processed_total",
			Help:      "Jobs processed, by queue, kind and action.",
		}, []string{"queue", "kind", "action"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobrouter",
			Name:      "job_duration_seconds",
			Help:      "Time spent processing a job.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue", "kind"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jobrouter",
			Name:      "jobs_in_flight",
			Help:      "Jobs currently being processed.",
		}, []string{"queue"}),
	}
	if reg != nil {
		reg.MustRegister(m.processed, m.duration, m.inFlight)
	}
	return m
}

// Middleware records every outcome.
func (m *Metrics) Middleware() Middleware {
	return func(next Proc) Proc {
		return func(ctx context.Context, msg *Message) *JobResp {
			gauge := m.inFlight.WithLabelValues(msg.Queue)
			gauge.Inc()
			defer gauge.Dec()

			start := time.Now()
			resp := next(ctx, msg)
			if resp == nil {
				return resp
			}

			kind := resp.Kind
			if kind == "" || resp.Unsupported {
				kind = unknownKind
			}
			m.duration.WithLabelValues(msg.Queue, kind).Observe(time.Since(start).Seconds())
			m.processed.WithLabelValues(msg.Queue, kind, resp.Action.String()).Inc()
			return resp
		}
	}
}
