package framework

import (
	"context"
	"errors"

	"go.uber.org/atomic"
)

// ErrPoolStarted is returned when Start is called twice.
var ErrPoolStarted = errors.New("pool already started")

// Pool couples a Subscriber and a Processor over an unbuffered hand-off,
// so at most ProcessorConfig.Concurrency handlers run at once.
type Pool struct {
	name       string
	subscriber *Subscriber
	processor  *Processor
	inputChan  chan *Message
	started    *atomic.Bool
	stopping   *atomic.Bool
	done       chan struct{}
	logger     Logger
}

// PoolOptions carries the optional parts of a Pool.
type PoolOptions struct {
	Middlewares []Middleware
	Observers   []OutcomeObserver
}

// NewPool wires a Subscriber and a Processor around proc. Middlewares wrap
// proc in order; observers run after each message is settled.
func NewPool(
	name string,
	subscriberCfg *SubscriberConfig,
	processorCfg *ProcessorConfig,
	source MessageSource,
	proc Proc,
	log Logger,
	opts PoolOptions,
) *Pool {
	if processorCfg.Concurrency <= 0 {
		processorCfg.Concurrency = 1
	}
	if subscriberCfg.Concurrency <= 0 {
		subscriberCfg.Concurrency = 1
	}

	proc = Chain(proc, opts.Middlewares...)

	return &Pool{
		name:       name,
		subscriber: NewSubscriber(subscriberCfg, source, log),
		processor:  NewProcessor(processorCfg, source, proc, log, opts.Observers...),
		inputChan:  make(chan *Message),
		started:    atomic.NewBool(false),
		stopping:   atomic.NewBool(false),
		done:       make(chan struct{}),
		logger:     log,
	}
}

// Start runs the pool in the background. Cancelling ctx has the same
// effect as Stop.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CAS(false, true) {
		return ErrPoolStarted
	}

	p.logger.Infof(ctx, "[Pool] %s started", p.name)

	if err := p.processor.Start(ctx, p.inputChan); err != nil {
		return err
	}
	if err := p.subscriber.Start(ctx, p.inputChan); err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-p.done:
		}
	}()

	return nil
}

// Stop drains the pool: pulling stops, in-flight handlers finish, then it
// returns. Safe to call more than once.
func (p *Pool) Stop() {
	if !p.started.Load() {
		return
	}
	if !p.stopping.CAS(false, true) {
		<-p.done
		return
	}

	p.logger.Infof(context.Background(), "[Pool] %s began to close", p.name)

	p.subscriber.Stop()
	p.subscriber.Wait()
	p.processor.SignalShutdown()
	p.processor.Wait()

	close(p.done)
	p.logger.Infof(context.Background(), "[Pool] %s shutdown complete", p.name)
}

// Done is closed once the pool has fully drained.
func (p *Pool) Done() <-chan struct{} {
	return p.done
}

// Name is the worker name the pool was built with.
func (p *Pool) Name() string {
	return p.name
}
