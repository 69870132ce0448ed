package framework

import (
	"context"
	"sync"
	"time"

	"soika/jobrouter/pkg/logger"
)

// Processor runs Proc on messages from the Subscriber and settles each one
// with the MessageSource.
type Processor struct {
	cfg        *ProcessorConfig
	source     MessageSource
	proc       Proc
	observers  []OutcomeObserver
	logger     Logger
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// NewProcessor builds a Processor that settles messages on source.
func NewProcessor(cfg *ProcessorConfig, source MessageSource, proc Proc, logger Logger, observers ...OutcomeObserver) *Processor {
	return &Processor{
		cfg:        cfg,
		source:     source,
		proc:       proc,
		observers:  observers,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

// Start launches cfg.Concurrency processing goroutines.
func (p *Processor) Start(ctx context.Context, inputChan <-chan *Message) error {
	p.logger.Infof(ctx, "[Processor] Starting with %d workers", p.cfg.Concurrency)

	// handlers outlive the pool context; Stop drains instead of aborting
	runCtx := context.WithoutCancel(ctx)

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.loop(runCtx, i, inputChan)
	}

	return nil
}

// SignalShutdown switches the workers to drain mode.
func (p *Processor) SignalShutdown() {
	p.logger.Infof(context.Background(), "[Processor] Shutdown signal received")
	close(p.shutdownCh)
}

// Wait blocks until every worker has exited.
func (p *Processor) Wait() {
	p.wg.Wait()
	p.logger.Infof(context.Background(), "[Processor] All workers exited")
}

func (p *Processor) loop(ctx context.Context, workerID int, inputChan <-chan *Message) {
	defer p.wg.Done()
	p.logger.Debugf(ctx, "[Processor-%d] Started", workerID)

	for {
		select {
		case msg := <-inputChan:
			p.process(ctx, msg, workerID)

		case <-p.shutdownCh:
			count := 0
			for {
				select {
				case msg := <-inputChan:
					p.process(ctx, msg, workerID)
					count++
				default:
					p.logger.Debugf(ctx, "[Processor-%d] Drained %d messages, exiting", workerID, count)
					return
				}
			}
		}
	}
}

func (p *Processor) process(ctx context.Context, msg *Message, workerID int) {
	if msg == nil {
		return
	}

	startTime := time.Now()

	procCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		procCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	procCtx = logger.WithWorkerID(procCtx, workerID)
	procCtx = logger.WithMessageID(procCtx, msg.ID)

	resp := p.proc(procCtx, msg)
	if resp == nil {
		resp = &JobResp{Action: ActionRelease}
	}

	// settle with a fresh deadline, the handler may have used up procCtx
	settleCtx, cancel := context.WithTimeout(logger.WithMessageID(ctx, msg.ID), 10*time.Second)
	defer cancel()
	p.settle(settleCtx, msg, resp, workerID)

	for _, o := range p.observers {
		o.Observe(settleCtx, msg, resp)
	}

	p.logger.Debugf(procCtx, "[Processor-%d] Message processed: %s, action: %s, duration: %v",
		workerID, msg.ID, resp.Action, time.Since(startTime))
}

// settle acks or nacks according to resp. Failures are logged and swallowed;
// the substrate redelivers anything left unsettled.
func (p *Processor) settle(ctx context.Context, msg *Message, resp *JobResp, workerID int) {
	var err error
	switch resp.Action {
	case ActionSuccess:
		err = p.source.Ack(ctx, msg)
	case ActionRelease:
		err = p.source.Nack(ctx, msg, true, resp.RetryIn)
	case ActionBury:
		err = p.source.Nack(ctx, msg, false, 0)
	}
	if err != nil {
		p.logger.Errorf(ctx, "[Processor-%d] %s failed for message %s: %v", workerID, resp.Action, msg.ID, err)
	}
}
