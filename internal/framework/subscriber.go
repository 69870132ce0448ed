package framework

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Subscriber pulls messages from a MessageSource and hands them to the
// Processor over an unbuffered channel.
type Subscriber struct {
	cfg        *SubscriberConfig
	source     MessageSource
	logger     Logger
	limiter    *rate.Limiter
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewSubscriber builds a Subscriber; cfg.Rate of 0 means unlimited pulls.
func NewSubscriber(cfg *SubscriberConfig, source MessageSource, logger Logger) *Subscriber {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}
	return &Subscriber{
		cfg:     cfg,
		source:  source,
		logger:  logger,
		limiter: limiter,
	}
}

// Start launches cfg.Concurrency pull loops.
func (s *Subscriber) Start(parentCtx context.Context, inputChan chan<- *Message) error {
	ctx, cancel := context.WithCancel(parentCtx)
	s.cancelFunc = cancel

	s.logger.Infof(ctx, "[Subscriber] Starting with %d loops for queue: %s",
		s.cfg.Concurrency, s.cfg.QueueName)

	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.loop(ctx, i, inputChan)
	}

	return nil
}

// Stop stops pulling. Messages already handed off are unaffected.
func (s *Subscriber) Stop() {
	s.logger.Infof(context.Background(), "[Subscriber] Stopping...")
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
}

// Wait blocks until every pull loop has returned.
func (s *Subscriber) Wait() {
	s.wg.Wait()
	s.logger.Infof(context.Background(), "[Subscriber] All loops exited")
}

func (s *Subscriber) loop(ctx context.Context, loopID int, inputChan chan<- *Message) {
	defer s.wg.Done()
	s.logger.Debugf(ctx, "[Subscriber-%d] Started", loopID)

	opts := ReceiveOptions{Wait: s.cfg.Timeout, Visibility: s.cfg.TTR}

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			s.logger.Debugf(ctx, "[Subscriber-%d] Context cancelled, exiting", loopID)
			return
		}

		msg, err := s.source.Receive(ctx, s.cfg.QueueName, opts)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				s.logger.Debugf(ctx, "[Subscriber-%d] Context cancelled, exiting", loopID)
				return
			}
			// transport faults never end the loop
			s.logger.Warnf(ctx, "[Subscriber-%d] Receive error: %v, retrying...", loopID, err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.ErrorBackoff):
				continue
			}
		}

		if msg == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		select {
		case inputChan <- msg:
			s.logger.Debugf(ctx, "[Subscriber-%d] Message handed off: %s", loopID, msg.ID)

		case <-ctx.Done():
			s.release(msg, loopID)
			return
		}
	}
}

// release gives back a message that was claimed but never processed.
func (s *Subscriber) release(msg *Message, loopID int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Warnf(ctx, "[Subscriber-%d] Returning unprocessed message on shutdown: %s", loopID, msg.ID)
	if err := s.source.Nack(ctx, msg, true, 0); err != nil {
		s.logger.Errorf(ctx, "[Subscriber-%d] Nack on shutdown failed: %s, err: %v", loopID, msg.ID, err)
	}
}
