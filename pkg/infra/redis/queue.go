package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"soika/jobrouter/internal/framework"
	"soika/jobrouter/internal/transport"
)

const defaultPollInterval = 100 * time.Millisecond

// claimScript promotes due delayed jobs, returns visibility-expired claims
// to the queue (or the dead list when out of attempts) and claims the
// oldest ready job.
//
// KEYS: ready, delayed, processing, dead
// ARGV: now_ms, visibility_ms, job key prefix
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local vis = tonumber(ARGV[2])
local prefix = ARGV[3]

local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now, 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('LPUSH', KEYS[1], id)
end

local expired = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now, 'LIMIT', 0, 100)
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[3], id)
  local key = prefix .. id
  local attempts = tonumber(redis.call('HGET', key, 'attempts') or '0')
  local max = tonumber(redis.call('HGET', key, 'max_attempts') or '1')
  if attempts >= max then
    redis.call('LPUSH', KEYS[4], id)
  else
    redis.call('LPUSH', KEYS[1], id)
  end
end

while true do
  local id = redis.call('RPOP', KEYS[1])
  if not id then
    return false
  end
  local key = prefix .. id
  if redis.call('EXISTS', key) == 1 then
    redis.call('ZADD', KEYS[3], now + vis, id)
    local attempts = redis.call('HINCRBY', key, 'attempts', 1)
    local delivery = redis.call('HINCRBY', key, 'delivery', 1)
    local body = redis.call('HGET', key, 'body')
    local max = tonumber(redis.call('HGET', key, 'max_attempts') or '1')
    return {id, body, attempts, max, delivery}
  end
end
`)

// ackScript deletes a claimed job if the delivery is still current.
//
// KEYS: processing
// ARGV: id, delivery, job key
var ackScript = redis.NewScript(`
if redis.call('HGET', ARGV[3], 'delivery') ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', ARGV[3])
return 1
`)

// nackScript requeues a claimed job, delayed when ready_at is in the
// future, or dead-letters it when requeue is off or attempts ran out.
//
// KEYS: processing, delayed, ready, dead
// ARGV: id, delivery, job key, requeue (0|1), ready_at_ms, now_ms
var nackScript = redis.NewScript(`
if redis.call('HGET', ARGV[3], 'delivery') ~= ARGV[2] then
  return 0
end
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
local attempts = tonumber(redis.call('HGET', ARGV[3], 'attempts') or '0')
local max = tonumber(redis.call('HGET', ARGV[3], 'max_attempts') or '1')
if ARGV[4] == '1' and attempts < max then
  if tonumber(ARGV[5]) > tonumber(ARGV[6]) then
    redis.call('ZADD', KEYS[2], ARGV[5], ARGV[1])
  else
    redis.call('LPUSH', KEYS[3], ARGV[1])
  end
  return 1
end
redis.call('LPUSH', KEYS[4], ARGV[1])
return 2
`)

var errStaleDelivery = errors.New("delivery no longer held")

// Queue is a reliable queue driver on plain Redis data structures.
type Queue struct {
	opts         *redis.Options
	prefix       string
	pollInterval time.Duration

	mu     sync.RWMutex
	client *redis.Client
}

var _ transport.Driver = (*Queue)(nil)

// NewQueue builds the driver; nothing is dialled until Connect.
func NewQueue(addr, password string, db int, prefix string) *Queue {
	if prefix == "" {
		prefix = "jobrouter"
	}
	return &Queue{
		opts: &redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		},
		prefix:       prefix,
		pollInterval: defaultPollInterval,
	}
}

// Connect dials Redis and checks it answers.
func (q *Queue) Connect(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.client == nil {
		q.client = redis.NewClient(q.opts)
	}
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	return nil
}

// Close drops the client; a later Connect dials again.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.client == nil {
		return nil
	}
	err := q.client.Close()
	q.client = nil
	return err
}

// DeclareQueue is a no-op; keys are created on first use.
func (q *Queue) DeclareQueue(ctx context.Context, name string, durable bool) error {
	return nil
}

// Send stores the job and makes it ready, or delayed when opts.Delay is set.
func (q *Queue) Send(ctx context.Context, name string, body []byte, opts transport.SendOptions) (string, error) {
	cli, err := q.conn()
	if err != nil {
		return "", err
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	id := uuid.NewString()
	k := q.keys(name)

	_, err = cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k.job(id),
			"body", body,
			"attempts", 0,
			"max_attempts", maxAttempts,
			"delivery", 0,
			"priority", opts.Priority,
			"queued_at", time.Now().UnixMilli(),
		)
		switch {
		case opts.Delay > 0:
			pipe.ZAdd(ctx, k.delayed, redis.Z{
				Score:  float64(time.Now().Add(opts.Delay).UnixMilli()),
				Member: id,
			})
		case opts.Priority > 0:
			// the consumer pops from the right
			pipe.RPush(ctx, k.ready, id)
		default:
			pipe.LPush(ctx, k.ready, id)
		}
		return nil
	})
	if err != nil {
		return "", classify("send", err)
	}
	return id, nil
}

// Receive claims one job, polling until opts.Wait passes. An empty queue
// returns nil, nil.
func (q *Queue) Receive(ctx context.Context, name string, opts transport.ReceiveOptions) (*framework.Message, error) {
	cli, err := q.conn()
	if err != nil {
		return nil, err
	}

	visibility := opts.Visibility
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	deadline := time.Now().Add(opts.Wait)
	k := q.keys(name)

	for {
		msg, err := q.claim(ctx, cli, name, k, visibility)
		if err != nil || msg != nil {
			return msg, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *Queue) claim(ctx context.Context, cli *redis.Client, name string, k keys, visibility time.Duration) (*framework.Message, error) {
	res, err := claimScript.Run(ctx, cli,
		[]string{k.ready, k.delayed, k.processing, k.dead},
		time.Now().UnixMilli(), visibility.Milliseconds(), k.jobPrefix,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("receive", err)
	}
	if len(res) != 5 {
		return nil, fmt.Errorf("redis receive: unexpected reply %v", res)
	}

	id, _ := res[0].(string)
	body, _ := res[1].(string)
	attempts, _ := res[2].(int64)
	maxAttempts, _ := res[3].(int64)
	delivery, _ := res[4].(int64)

	return &framework.Message{
		ID:          id,
		Queue:       name,
		Data:        []byte(body),
		Attempt:     int(attempts),
		MaxAttempts: int(maxAttempts),
		Receipt:     delivery,
	}, nil
}

// Ack removes a claimed job.
func (q *Queue) Ack(ctx context.Context, msg *framework.Message) error {
	cli, err := q.conn()
	if err != nil {
		return err
	}
	k := q.keys(msg.Queue)

	n, err := ackScript.Run(ctx, cli, []string{k.processing},
		msg.ID, receipt(msg), k.job(msg.ID),
	).Int()
	if err != nil {
		return classify("ack", err)
	}
	if n == 0 {
		return fmt.Errorf("ack %s: %w", msg.ID, errStaleDelivery)
	}
	return nil
}

// Nack makes a claimed job ready again after delay, or moves it to the dead
// list when requeue is false or its attempts are spent.
func (q *Queue) Nack(ctx context.Context, msg *framework.Message, requeue bool, delay time.Duration) error {
	cli, err := q.conn()
	if err != nil {
		return err
	}
	k := q.keys(msg.Queue)

	flag := "0"
	if requeue {
		flag = "1"
	}
	now := time.Now()

	n, err := nackScript.Run(ctx, cli,
		[]string{k.processing, k.delayed, k.ready, k.dead},
		msg.ID, receipt(msg), k.job(msg.ID), flag, now.Add(delay).UnixMilli(), now.UnixMilli(),
	).Int()
	if err != nil {
		return classify("nack", err)
	}
	if n == 0 {
		return fmt.Errorf("nack %s: %w", msg.ID, errStaleDelivery)
	}
	return nil
}

// DeadLetter is a job parked in a queue's dead list.
type DeadLetter struct {
	ID       string
	Body     []byte
	Attempts int
}

// DeadLetters returns up to limit dead jobs of name, newest first.
func (q *Queue) DeadLetters(ctx context.Context, name string, limit int64) ([]DeadLetter, error) {
	cli, err := q.conn()
	if err != nil {
		return nil, err
	}
	k := q.keys(name)

	ids, err := cli.LRange(ctx, k.dead, 0, limit-1).Result()
	if err != nil {
		return nil, classify("dead letters", err)
	}

	out := make([]DeadLetter, 0, len(ids))
	for _, id := range ids {
		vals, err := cli.HMGet(ctx, k.job(id), "body", "attempts").Result()
		if err != nil {
			return nil, classify("dead letters", err)
		}
		dl := DeadLetter{ID: id}
		if s, ok := vals[0].(string); ok {
			dl.Body = []byte(s)
		}
		if s, ok := vals[1].(string); ok {
			dl.Attempts, _ = strconv.Atoi(s)
		}
		out = append(out, dl)
	}
	return out, nil
}

func (q *Queue) conn() (*redis.Client, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.client == nil {
		return nil, transport.Lost(errors.New("redis client not connected"))
	}
	return q.client, nil
}

type keys struct {
	ready      string
	delayed    string
	processing string
	dead       string
	jobPrefix  string
}

func (k keys) job(id string) string {
	return k.jobPrefix + id
}

// keys share a hash tag so the scripts stay on one cluster slot.
func (q *Queue) keys(name string) keys {
	base := q.prefix + ":{" + name + "}:"
	return keys{
		ready:      base + "ready",
		delayed:    base + "delayed",
		processing: base + "processing",
		dead:       base + "dead",
		jobPrefix:  base + "job:",
	}
}

func receipt(msg *framework.Message) string {
	switch v := msg.Receipt.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case string:
		return v
	default:
		return ""
	}
}

// classify marks network-level failures as lost connections.
func classify(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &netErr) {
		return transport.Lost(fmt.Errorf("redis %s: %w", op, err))
	}
	return fmt.Errorf("redis %s failed: %w", op, err)
}
