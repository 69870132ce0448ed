package lmstfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/bitleak/lmstfy/client"

	"soika/jobrouter/internal/framework"
	"soika/jobrouter/internal/transport"
)

// DeadSuffix is appended to a queue name to form its dead letter queue.
const DeadSuffix = "_dead"

// frame wraps a job body so attempts survive a release, which lmstfy does
// not count on its own.
type frame struct {
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Body        json.RawMessage `json:"body"`
}

// Client is the lmstfy queue driver.
type Client struct {
	cli       *client.LmstfyClient
	namespace string
	ttl       uint32
}

var _ transport.Driver = (*Client)(nil)

// NewClient builds a driver for one lmstfy namespace. ttl (seconds) is
// applied to every published job, 0 keeps jobs until consumed.
func NewClient(host string, port int, namespace string, token string, ttl uint32) (*Client, error) {
	if host == "" || namespace == "" {
		return nil, errors.New("lmstfy host and namespace are required")
	}
	cli := client.NewLmstfyClient(host, port, namespace, token)
	return &Client{
		cli:       cli,
		namespace: namespace,
		ttl:       ttl,
	}, nil
}

// Connect checks the server answers. The HTTP client itself is stateless.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.cli.QueueSize("__healthcheck"); err != nil {
		return fmt.Errorf("lmstfy health check failed: %w", err)
	}
	return nil
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}

// DeclareQueue is a no-op, lmstfy queues exist on first publish.
func (c *Client) DeclareQueue(ctx context.Context, name string, durable bool) error {
	return nil
}

// Send publishes body wrapped in a frame carrying the attempt budget.
func (c *Client) Send(ctx context.Context, queue string, body []byte, opts transport.SendOptions) (string, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return c.publish(queue, frame{Attempt: 0, MaxAttempts: maxAttempts, Body: body}, opts.Delay)
}

func (c *Client) publish(queue string, f frame, delay time.Duration) (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("lmstfy encode failed: %w", err)
	}

	id, err := c.cli.Publish(queue, data, c.ttl, tries(f), seconds(delay))
	if err != nil {
		return "", classify("publish", err)
	}
	return id, nil
}

// Receive consumes one job with opts.Visibility as TTR. An empty queue
// returns nil, nil.
func (c *Client) Receive(ctx context.Context, queue string, opts transport.ReceiveOptions) (*framework.Message, error) {
	ttr := seconds(opts.Visibility)
	if ttr == 0 {
		ttr = 1
	}

	job, err := c.cli.Consume(queue, ttr, seconds(opts.Wait))
	if err != nil {
		return nil, classify("consume", err)
	}
	if job == nil {
		return nil, nil
	}

	var f frame
	if err := json.Unmarshal(job.Data, &f); err != nil || len(f.Body) == 0 {
		// not framed by this driver, hand it over as is
		f = frame{Body: job.Data}
	}

	return &framework.Message{
		ID:          job.ID,
		Queue:       queue,
		Data:        f.Body,
		Attempt:     f.Attempt + 1,
		MaxAttempts: f.MaxAttempts,
		Receipt:     f,
	}, nil
}

// Ack deletes the job.
func (c *Client) Ack(ctx context.Context, msg *framework.Message) error {
	if err := c.cli.Ack(msg.Queue, msg.ID); err != nil {
		return classify("ack", err)
	}
	return nil
}

// Nack republishes the job with its attempt counted and acks the original.
// Without requeue, or with no attempts left, the body goes to the dead
// letter queue instead.
func (c *Client) Nack(ctx context.Context, msg *framework.Message, requeue bool, delay time.Duration) error {
	f, _ := msg.Receipt.(frame)
	f.Attempt = msg.Attempt
	f.Body = msg.Data

	if requeue && (f.MaxAttempts == 0 || f.Attempt < f.MaxAttempts) {
		if _, err := c.publish(msg.Queue, f, delay); err != nil {
			return err
		}
	} else {
		if _, err := c.publish(msg.Queue+DeadSuffix, frame{Attempt: f.Attempt, MaxAttempts: f.MaxAttempts, Body: msg.Data}, 0); err != nil {
			return err
		}
	}
	return c.Ack(ctx, msg)
}

// classify marks request-level failures (connection refused, timeouts) as
// lost connections.
func classify(op string, err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Type == client.RequestErr {
		return transport.Lost(fmt.Errorf("lmstfy %s: %w", op, err))
	}
	return fmt.Errorf("lmstfy %s failed: %w", op, err)
}

// tries is the lmstfy redelivery budget for f: the attempts it has left,
// covering a worker that dies holding the job. Always within [1, MaxUint16].
func tries(f frame) uint16 {
	left := f.MaxAttempts - f.Attempt
	switch {
	case f.MaxAttempts <= 0 || left < 1:
		return 1
	case left > math.MaxUint16:
		return math.MaxUint16
	}
	return uint16(left)
}

func seconds(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	s := uint32(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}
