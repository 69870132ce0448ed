package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"soika/jobrouter/internal/framework"
)

// PubSub publishes job outcome events on a Redis channel.
type PubSub struct {
	client  *redis.Client
	channel string
	log     framework.Logger
}

// NewPubSub builds the publisher without dialling; go-redis connects on
// first use.
func NewPubSub(addr, password string, db int, channel string, log framework.Logger) *PubSub {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &PubSub{
		client:  client,
		channel: channel,
		log:     log,
	}
}

// Ping checks the connection.
func (p *PubSub) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	return nil
}

// JobEvent is the message published for each finished delivery.
type JobEvent struct {
	MessageID string `json:"message_id"`
	Queue     string `json:"queue"`
	Kind      string `json:"kind"`
	Action    string `json:"action"` // success/release/bury
	Attempt   int    `json:"attempt"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Publish sends event on the configured channel.
func (p *PubSub) Publish(ctx context.Context, event *JobEvent) error {
	msgJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, msgJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}

	return nil
}

// Observe implements framework.OutcomeObserver. Publish failures are
// logged only.
func (p *PubSub) Observe(ctx context.Context, msg *framework.Message, resp *framework.JobResp) {
	event := &JobEvent{
		MessageID: msg.ID,
		Queue:     msg.Queue,
		Kind:      resp.Kind,
		Action:    resp.Action.String(),
		Attempt:   msg.Attempt,
		Timestamp: time.Now().UnixMilli(),
	}
	if resp.Err != nil {
		event.Error = resp.Err.Error()
	}

	if err := p.Publish(ctx, event); err != nil {
		p.log.Warnf(ctx, "[PubSub] %v", err)
	}
}

// Subscribe decodes events from the channel until ctx is done. The
// returned channel is closed on exit.
func (p *PubSub) Subscribe(ctx context.Context) (<-chan *JobEvent, error) {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", p.channel, err)
	}

	out := make(chan *JobEvent)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var event JobEvent
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					p.log.Warnf(ctx, "[PubSub] Skipping malformed event: %v", err)
					continue
				}
				select {
				case out <- &event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the redis client.
func (p *PubSub) Close() error {
	return p.client.Close()
}
