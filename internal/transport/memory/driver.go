// Package memory is an in-process queue substrate with the same delivery
// semantics as the redis driver. It backs tests and the "memory" driver.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"soika/jobrouter/internal/framework"
	"soika/jobrouter/internal/transport"
)

const (
	pollInterval      = 10 * time.Millisecond
	defaultVisibility = 30 * time.Second
)

var (
	errDown          = errors.New("memory substrate down")
	errUnknownQueue  = errors.New("queue not declared")
	errStaleDelivery = errors.New("delivery no longer held")
)

type job struct {
	id          string
	body        []byte
	priority    int
	attempts    int
	maxAttempts int
	readyAt     time.Time
	deadline    time.Time // visibility deadline while claimed
	delivery    uint64    // token of the current claim
	seq         uint64    // FIFO order within a priority
}

type queue struct {
	waiting    []*job
	processing map[string]*job
	dead       []*job
}

// DeadLetter is a message that exhausted its attempts or was buried.
type DeadLetter struct {
	ID       string
	Body     []byte
	Attempts int
}

// Driver is safe for concurrent use.
type Driver struct {
	mu        sync.Mutex
	queues    map[string]*queue
	seq       uint64
	delivery  uint64
	available *atomic.Bool
	connected *atomic.Bool
	connects  *atomic.Int64
}

var _ transport.Driver = (*Driver)(nil)

// New returns an available, not yet connected driver.
func New() *Driver {
	return &Driver{
		queues:    make(map[string]*queue),
		available: atomic.NewBool(true),
		connected: atomic.NewBool(false),
		connects:  atomic.NewInt64(0),
	}
}

// SetAvailable simulates an outage (false) or recovery (true). While down
// every call fails; queued data survives.
func (d *Driver) SetAvailable(up bool) {
	d.available.Store(up)
	if !up {
		d.connected.Store(false)
	}
}

// Connects counts connect attempts, successful or not.
func (d *Driver) Connects() int64 {
	return d.connects.Load()
}

// Connect fails while the driver is set unavailable.
func (d *Driver) Connect(ctx context.Context) error {
	d.connects.Inc()
	if !d.available.Load() {
		return errDown
	}
	d.connected.Store(true)
	return nil
}

// Close marks the driver disconnected. Queued messages are kept.
func (d *Driver) Close() error {
	d.connected.Store(false)
	return nil
}

// DeclareQueue creates name if it does not exist yet.
func (d *Driver) DeclareQueue(ctx context.Context, name string, durable bool) error {
	if err := d.check(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queueLocked(name)
	return nil
}

// Send stores body and returns its id.
func (d *Driver) Send(ctx context.Context, name string, body []byte, opts transport.SendOptions) (string, error) {
	if err := d.check(); err != nil {
		return "", err
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queueLocked(name)
	d.seq++
	j := &job{
		id:          uuid.NewString(),
		body:        append([]byte(nil), body...),
		priority:    opts.Priority,
		maxAttempts: maxAttempts,
		readyAt:     time.Now().Add(opts.Delay),
		seq:         d.seq,
	}
	q.waiting = append(q.waiting, j)
	return j.id, nil
}

// Receive claims the highest priority due message, or returns nil when
// none shows up within opts.Wait.
func (d *Driver) Receive(ctx context.Context, name string, opts transport.ReceiveOptions) (*framework.Message, error) {
	visibility := opts.Visibility
	if visibility <= 0 {
		visibility = defaultVisibility
	}
	deadline := time.Now().Add(opts.Wait)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if err := d.check(); err != nil {
			return nil, err
		}

		if msg, err := d.claim(name, visibility); msg != nil || err != nil {
			return msg, err
		}

		if !time.Now().Before(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Driver) claim(name string, visibility time.Duration) (*framework.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queueLocked(name)

	now := time.Now()
	d.reclaimLocked(q, now)

	var next *job
	idx := -1
	for i, j := range q.waiting {
		if j.readyAt.After(now) {
			continue
		}
		if next == nil || j.priority > next.priority || (j.priority == next.priority && j.seq < next.seq) {
			next, idx = j, i
		}
	}
	if next == nil {
		return nil, nil
	}

	q.waiting = append(q.waiting[:idx], q.waiting[idx+1:]...)
	d.delivery++
	next.delivery = d.delivery
	next.attempts++
	next.deadline = now.Add(visibility)
	q.processing[next.id] = next

	return &framework.Message{
		ID:          next.id,
		Queue:       name,
		Data:        append([]byte(nil), next.body...),
		Attempt:     next.attempts,
		MaxAttempts: next.maxAttempts,
		Receipt:     next.delivery,
	}, nil
}

// reclaimLocked returns claims whose visibility expired to the queue, or
// dead-letters them when they have no attempts left.
func (d *Driver) reclaimLocked(q *queue, now time.Time) {
	for id, j := range q.processing {
		if j.deadline.After(now) {
			continue
		}
		delete(q.processing, id)
		if j.attempts >= j.maxAttempts {
			q.dead = append(q.dead, j)
			continue
		}
		j.readyAt = now
		q.waiting = append(q.waiting, j)
	}
}

// Ack removes a claimed message.
func (d *Driver) Ack(ctx context.Context, msg *framework.Message) error {
	if err := d.check(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	q, j, err := d.heldLocked(msg)
	if err != nil {
		return err
	}
	delete(q.processing, j.id)
	return nil
}

// Nack requeues msg after delay. Without requeue, or once its attempts run
// out, msg moves to the dead letters.
func (d *Driver) Nack(ctx context.Context, msg *framework.Message, requeue bool, delay time.Duration) error {
	if err := d.check(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	q, j, err := d.heldLocked(msg)
	if err != nil {
		return err
	}
	delete(q.processing, j.id)

	if !requeue || j.attempts >= j.maxAttempts {
		q.dead = append(q.dead, j)
		return nil
	}
	j.readyAt = time.Now().Add(delay)
	q.waiting = append(q.waiting, j)
	return nil
}

// Pending counts messages waiting or claimed on name.
func (d *Driver) Pending(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[name]
	if !ok {
		return 0
	}
	return len(q.waiting) + len(q.processing)
}

// DeadLetters returns a copy of the dead letter of name.
func (d *Driver) DeadLetters(name string) []DeadLetter {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[name]
	if !ok {
		return nil
	}
	out := make([]DeadLetter, 0, len(q.dead))
	for _, j := range q.dead {
		out = append(out, DeadLetter{ID: j.id, Body: append([]byte(nil), j.body...), Attempts: j.attempts})
	}
	return out
}

func (d *Driver) heldLocked(msg *framework.Message) (*queue, *job, error) {
	q, ok := d.queues[msg.Queue]
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", msg.Queue, errUnknownQueue)
	}
	j, ok := q.processing[msg.ID]
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", msg.ID, errStaleDelivery)
	}
	if token, _ := msg.Receipt.(uint64); token != j.delivery {
		return nil, nil, fmt.Errorf("%s: %w", msg.ID, errStaleDelivery)
	}
	return q, j, nil
}

func (d *Driver) queueLocked(name string) *queue {
	q, ok := d.queues[name]
	if !ok {
		q = &queue{processing: make(map[string]*job)}
		d.queues[name] = q
	}
	return q
}

func (d *Driver) check() error {
	if !d.available.Load() || !d.connected.Load() {
		return transport.Lost(errDown)
	}
	return nil
}
