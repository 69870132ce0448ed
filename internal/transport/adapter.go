package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"soika/jobrouter/internal/framework"
)

const (
	defaultReconnectBackoff = 5 * time.Second
	defaultConnectTimeout   = 10 * time.Second
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithReconnectBackoff sets the pause between reconnect attempts.
func WithReconnectBackoff(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.backoff = d
		}
	}
}

// WithConnectTimeout bounds a single connect attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.connectTimeout = d
		}
	}
}

// Adapter owns the connection to the queue substrate. It is shared by the
// emit side and every worker pool of a process.
type Adapter struct {
	driver         Driver
	queue          string
	log            framework.Logger
	backoff        time.Duration
	connectTimeout time.Duration

	state *atomic.Int32
	group singleflight.Group

	mu           sync.Mutex
	changed      chan struct{} // closed and replaced on every state change
	reconnecting bool          // a reconnect loop is running; guarded by mu

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewAdapter wraps driver for queue. Nothing is dialled until Connect or
// the first operation.
func NewAdapter(driver Driver, queue string, log framework.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		driver:         driver,
		queue:          queue,
		log:            log,
		backoff:        defaultReconnectBackoff,
		connectTimeout: defaultConnectTimeout,
		state:          atomic.NewInt32(int32(StateDisconnected)),
		changed:        make(chan struct{}),
		closeCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Queue is the queue this adapter declares and sends to.
func (a *Adapter) Queue() string {
	return a.queue
}

// ReconnectBackoff is the fixed pause between reconnect attempts.
func (a *Adapter) ReconnectBackoff() time.Duration {
	return a.backoff
}

// State reports the current connection state.
func (a *Adapter) State() State {
	return State(a.state.Load())
}

// Connect performs the first connection. On failure the adapter keeps
// retrying in the background and the error is returned wrapped in
// ErrUnavailable.
func (a *Adapter) Connect(ctx context.Context) error {
	if err := a.connect(); err != nil {
		a.log.Errorf(ctx, "[Transport] Connect to queue %s failed: %v", a.queue, err)
		a.startReconnect()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Await blocks until the adapter is connected or ctx is done.
func (a *Adapter) Await(ctx context.Context) error {
	for {
		a.mu.Lock()
		state := a.State()
		ch := a.changed
		a.mu.Unlock()

		switch state {
		case StateConnected:
			return nil
		case StateClosed:
			return fmt.Errorf("%w: %w", ErrUnavailable, ErrClosed)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		case <-ch:
		}
	}
}

// Send publishes body on the adapter's queue. While disconnected it first
// waits, bounded by ctx, for the connection to come back.
func (a *Adapter) Send(ctx context.Context, body []byte, opts SendOptions) (string, error) {
	if err := a.ready(ctx); err != nil {
		return "", err
	}
	id, err := a.driver.Send(ctx, a.queue, body, opts)
	if err != nil {
		return "", a.fail(ctx, "send", err)
	}
	return id, nil
}

// Receive pulls one message from queue, waiting like Send for a
// connection.
func (a *Adapter) Receive(ctx context.Context, queue string, opts ReceiveOptions) (*framework.Message, error) {
	if err := a.ready(ctx); err != nil {
		return nil, err
	}
	msg, err := a.driver.Receive(ctx, queue, opts)
	if err != nil {
		return nil, a.fail(ctx, "receive", err)
	}
	return msg, nil
}

// Ack settles msg. It never triggers a connect; a message that cannot be
// acked is redelivered by the substrate.
func (a *Adapter) Ack(ctx context.Context, msg *framework.Message) error {
	if a.State() != StateConnected {
		return ErrUnavailable
	}
	if err := a.driver.Ack(ctx, msg); err != nil {
		return a.fail(ctx, "ack", err)
	}
	return nil
}

// Nack returns msg to the queue, or dead-letters it when requeue is false.
func (a *Adapter) Nack(ctx context.Context, msg *framework.Message, requeue bool, delay time.Duration) error {
	if a.State() != StateConnected {
		return ErrUnavailable
	}
	if err := a.driver.Nack(ctx, msg, requeue, delay); err != nil {
		return a.fail(ctx, "nack", err)
	}
	return nil
}

// Close stops reconnecting and closes the driver. The adapter is unusable
// afterwards.
func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.setState(StateClosed)
		close(a.closeCh)
		a.wg.Wait()
		err = a.driver.Close()
		a.log.Infof(context.Background(), "[Transport] Closed queue %s", a.queue)
	})
	return err
}

// ready waits for a Connected state. With no reconnect loop running it
// dials at once; otherwise it waits for the loop instead of dialling
// again. The wait is bounded by ctx only.
func (a *Adapter) ready(ctx context.Context) error {
	for {
		switch a.State() {
		case StateConnected:
			return nil
		case StateClosed:
			return fmt.Errorf("%w: %w", ErrUnavailable, ErrClosed)
		}

		if !a.reconnectInFlight() {
			err := a.connect()
			if err == nil {
				return nil
			}
			if errors.Is(err, ErrClosed) {
				return fmt.Errorf("%w: %w", ErrUnavailable, ErrClosed)
			}
			a.log.Warnf(ctx, "[Transport] Not connected to queue %s: %v", a.queue, err)
			a.startReconnect()
		}

		if err := a.Await(ctx); err != nil {
			return err
		}
	}
}

// connect runs at most one connect attempt at a time; concurrent callers
// share its result.
func (a *Adapter) connect() error {
	_, err, _ := a.group.Do("connect", func() (interface{}, error) {
		switch a.State() {
		case StateConnected:
			return nil, nil
		case StateClosed:
			return nil, ErrClosed
		}

		a.setState(StateConnecting)

		ctx, cancel := context.WithTimeout(context.Background(), a.connectTimeout)
		defer cancel()

		err := a.driver.Connect(ctx)
		if err == nil {
			err = a.driver.DeclareQueue(ctx, a.queue, true)
		}
		if err != nil {
			a.transition(StateConnecting, StateDisconnected)
			return nil, err
		}

		if !a.transition(StateConnecting, StateConnected) {
			return nil, ErrClosed
		}
		a.log.Infof(ctx, "[Transport] Connected to queue %s", a.queue)
		return nil, nil
	})
	return err
}

// fail logs a driver error and, for connectivity faults, starts the
// reconnect cycle.
func (a *Adapter) fail(ctx context.Context, op string, err error) error {
	if !errors.Is(err, ErrConnectionLost) {
		return fmt.Errorf("%s: %w", op, err)
	}

	a.log.Errorf(ctx, "[Transport] %s on queue %s lost the connection: %v", op, a.queue, err)
	if a.transition(StateConnected, StateDisconnected) {
		a.startReconnect()
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// startReconnect launches the reconnect loop unless one is running or the
// adapter is closed. Both checks and wg.Add happen under mu so Close never
// waits on a loop that starts after it.
func (a *Adapter) startReconnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reconnecting || a.State() == StateClosed {
		return
	}
	a.reconnecting = true
	a.wg.Add(1)
	go a.reconnectLoop()
}

func (a *Adapter) reconnectInFlight() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reconnecting
}

// settled clears the reconnecting flag once the adapter is connected or
// closed. A connection lost again before that keeps the loop running.
func (a *Adapter) settled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.State() {
	case StateConnected, StateClosed:
		a.reconnecting = false
		return true
	}
	return false
}

func (a *Adapter) reconnectLoop() {
	defer a.wg.Done()

	ctx := context.Background()
	for attempt := 1; ; attempt++ {
		select {
		case <-a.closeCh:
			a.settled()
			return
		case <-time.After(a.backoff):
		}

		if a.settled() {
			return
		}

		err := a.connect()
		if err == nil {
			if a.settled() {
				a.log.Infof(ctx, "[Transport] Reconnected to queue %s after %d attempts", a.queue, attempt)
				return
			}
			continue
		}
		if errors.Is(err, ErrClosed) {
			a.settled()
			return
		}
		a.log.Warnf(ctx, "[Transport] Reconnect attempt %d to queue %s failed: %v", attempt, a.queue, err)
	}
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.swapLocked(s)
}

// transition moves from -> to and reports whether it happened.
func (a *Adapter) transition(from, to State) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.State() != from {
		return false
	}
	a.swapLocked(to)
	return true
}

func (a *Adapter) swapLocked(s State) {
	prev := a.State()
	if prev == s || prev == StateClosed {
		return
	}
	a.state.Store(int32(s))
	close(a.changed)
	a.changed = make(chan struct{})
}
