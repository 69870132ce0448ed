package jobrouter

import (
	"context"
	"errors"
	"time"

	"soika/jobrouter/internal/framework"
	"soika/jobrouter/internal/transport"
	"soika/jobrouter/pkg/logger"
)

const (
	DefaultConcurrency = 10
	// DefaultEmitWait covers three reconnect attempts at the adapter's
	// default backoff.
	DefaultEmitWait    = 15 * time.Second
	defaultMaxAttempts = 3
)

// Transport is what a Router needs from the queue connection.
// *transport.Adapter implements it.
type Transport interface {
	framework.MessageSource
	// Send waits, bounded by ctx, for a connection before publishing.
	Send(ctx context.Context, body []byte, opts transport.SendOptions) (string, error)
	Queue() string
}

var _ Transport = (*transport.Adapter)(nil)

// Option configures a Router.
type Option func(*Router)

// WithEmitWait bounds how long Emit waits for a lost connection to come
// back before failing with ErrTransportUnavailable. Default
// DefaultEmitWait; 0 leaves the bound to the caller's context.
func WithEmitWait(d time.Duration) Option {
	return func(r *Router) {
		if d >= 0 {
			r.emitWait = d
		}
	}
}

// WithDefaultMaxAttempts applies to kinds that set no MaxAttempts.
func WithDefaultMaxAttempts(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.defaultMaxAttempts = n
		}
	}
}

// WithMetrics records processing metrics for every pool.
func WithMetrics(m *framework.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithObservers registers outcome observers on every pool.
func WithObservers(obs ...framework.OutcomeObserver) Option {
	return func(r *Router) { r.observers = append(r.observers, obs...) }
}

// Router ties a Registry to a queue: it emits validated jobs and runs the
// worker pools that consume them.
type Router struct {
	queue              string
	transport          Transport
	registry           *Registry
	log                logger.Logger
	emitWait           time.Duration
	defaultMaxAttempts int
	metrics            *framework.Metrics
	observers          []framework.OutcomeObserver
}

// New builds a Router and seals registry.
func New(queue string, t Transport, registry *Registry, log logger.Logger, opts ...Option) (*Router, error) {
	if queue == "" {
		return nil, errors.New("queue name is required")
	}
	if t == nil {
		return nil, errors.New("transport is required")
	}
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	registry.Seal()

	r := &Router{
		queue:              queue,
		transport:          t,
		registry:           registry,
		log:                log,
		emitWait:           DefaultEmitWait,
		defaultMaxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Queue is the queue the router emits to.
func (r *Router) Queue() string {
	return r.queue
}

// Kinds lists the registered kinds in sorted order.
func (r *Router) Kinds() []string {
	return r.registry.Kinds()
}

// EmitFunc emits one kind with an untyped payload.
type EmitFunc func(ctx context.Context, payload any, opts ...DeliveryOption) error

// Emitters returns an emit function per registered kind.
func (r *Router) Emitters() map[string]EmitFunc {
	out := make(map[string]EmitFunc, r.registry.Len())
	for _, kind := range r.registry.Kinds() {
		kind := kind
		out[kind] = func(ctx context.Context, payload any, opts ...DeliveryOption) error {
			return r.Emit(ctx, kind, payload, opts...)
		}
	}
	return out
}

// WorkerOptions configure one worker pool.
type WorkerOptions struct {
	Name string
	// Queue defaults to the router's queue.
	Queue string
	// Concurrency bounds the handlers running at once. Default 10.
	Concurrency int
	// Pullers is the number of pull loops. Default 1.
	Pullers int
	// Wait is the long-poll wait per pull.
	Wait time.Duration
	// Visibility is how long a claimed job stays invisible to other workers.
	Visibility time.Duration
	// Rate limits pulls per second, 0 = unlimited.
	Rate         float64
	ErrorBackoff time.Duration
	// Timeout is set as a deadline on the handler context.
	Timeout time.Duration
}

func (o WorkerOptions) withDefaults(queue string) WorkerOptions {
	if o.Name == "" {
		o.Name = queue
	}
	if o.Queue == "" {
		o.Queue = queue
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Pullers <= 0 {
		o.Pullers = 1
	}
	if o.Wait <= 0 {
		o.Wait = 3 * time.Second
	}
	if o.Visibility <= 0 {
		o.Visibility = 30 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = time.Second
	}
	return o
}

// StartWorkers starts a worker pool consuming the router's queue. The
// pool runs until ctx is cancelled or Stop is called; both drain
// in-flight jobs.
func (r *Router) StartWorkers(ctx context.Context, opts WorkerOptions) (*framework.Pool, error) {
	opts = opts.withDefaults(r.queue)

	mws := []framework.Middleware{framework.Recover(r.log), framework.Logging(r.log)}
	if r.metrics != nil {
		mws = append(mws, r.metrics.Middleware())
	}

	pool := framework.NewPool(
		opts.Name,
		&framework.SubscriberConfig{
			QueueName:    opts.Queue,
			Concurrency:  opts.Pullers,
			Timeout:      opts.Wait,
			TTR:          opts.Visibility,
			Rate:         opts.Rate,
			ErrorBackoff: opts.ErrorBackoff,
		},
		&framework.ProcessorConfig{
			Concurrency: opts.Concurrency,
			Timeout:     opts.Timeout,
		},
		r.transport,
		r.process,
		r.log,
		framework.PoolOptions{Middlewares: mws, Observers: r.observers},
	)

	if err := pool.Start(ctx); err != nil {
		return nil, err
	}
	return pool, nil
}
