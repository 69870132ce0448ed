package framework

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"soika/jobrouter/pkg/logger"
)

type settled struct {
	id      string
	action  string
	requeue bool
	delay   time.Duration
}

// fakeSource serves a fixed set of messages and records how each one was
// settled.
type fakeSource struct {
	mu      sync.Mutex
	pending []*Message
	settled []settled
}

func newFakeSource(ids ...string) *fakeSource {
	s := &fakeSource{}
	for _, id := range ids {
		s.pending = append(s.pending, &Message{ID: id, Queue: "q", Attempt: 1, MaxAttempts: 3})
	}
	return s
}

func (s *fakeSource) Receive(ctx context.Context, queue string, opts ReceiveOptions) (*Message, error) {
	s.mu.Lock()
	if len(s.pending) > 0 {
		msg := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		return msg, nil
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(opts.Wait):
		return nil, nil
	}
}

func (s *fakeSource) Ack(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, settled{id: msg.ID, action: "ack"})
	return nil
}

func (s *fakeSource) Nack(ctx context.Context, msg *Message, requeue bool, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, settled{id: msg.ID, action: "nack", requeue: requeue, delay: delay})
	return nil
}

func (s *fakeSource) results() []settled {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]settled(nil), s.settled...)
}

func testConfigs(procs int) (*SubscriberConfig, *ProcessorConfig) {
	return &SubscriberConfig{
			QueueName:    "q",
			Concurrency:  1,
			Timeout:      20 * time.Millisecond,
			TTR:          time.Second,
			ErrorBackoff: 10 * time.Millisecond,
		}, &ProcessorConfig{
			Concurrency: procs,
		}
}

func TestPool_SettlesByAction(t *testing.T) {
	src := newFakeSource("ok", "retry", "dead")
	proc := func(ctx context.Context, msg *Message) *JobResp {
		switch msg.ID {
		case "retry":
			return &JobResp{Action: ActionRelease, RetryIn: 2 * time.Second}
		case "dead":
			return &JobResp{Action: ActionBury}
		}
		return &JobResp{Action: ActionSuccess}
	}

	subCfg, procCfg := testConfigs(2)
	pool := NewPool("test", subCfg, procCfg, src, proc, logger.NewNopLogger(), PoolOptions{})
	require.NoError(t, pool.Start(context.Background()))

	require.Eventually(t, func() bool { return len(src.results()) == 3 }, 2*time.Second, 5*time.Millisecond)
	pool.Stop()

	byID := map[string]settled{}
	for _, s := range src.results() {
		byID[s.id] = s
	}
	assert.Equal(t, "ack", byID["ok"].action)
	assert.Equal(t, settled{id: "retry", action: "nack", requeue: true, delay: 2 * time.Second}, byID["retry"])
	assert.Equal(t, settled{id: "dead", action: "nack", requeue: false}, byID["dead"])
}

func TestPool_ConcurrencyBound(t *testing.T) {
	ids := make([]string, 12)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	src := newFakeSource(ids...)

	running := atomic.NewInt32(0)
	peak := atomic.NewInt32(0)
	proc := func(ctx context.Context, msg *Message) *JobResp {
		n := running.Inc()
		for {
			p := peak.Load()
			if n <= p || peak.CAS(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Dec()
		return &JobResp{Action: ActionSuccess}
	}

	subCfg, procCfg := testConfigs(3)
	subCfg.Concurrency = 4
	pool := NewPool("bounded", subCfg, procCfg, src, proc, logger.NewNopLogger(), PoolOptions{})
	require.NoError(t, pool.Start(context.Background()))

	require.Eventually(t, func() bool { return len(src.results()) == len(ids) }, 3*time.Second, 5*time.Millisecond)
	pool.Stop()

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Greater(t, peak.Load(), int32(1))
}

func TestPool_StopWaitsForInFlight(t *testing.T) {
	src := newFakeSource("slow")
	started := make(chan struct{})
	finished := atomic.NewBool(false)
	proc := func(ctx context.Context, msg *Message) *JobResp {
		close(started)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
		return &JobResp{Action: ActionSuccess}
	}

	subCfg, procCfg := testConfigs(1)
	pool := NewPool("drain", subCfg, procCfg, src, proc, logger.NewNopLogger(), PoolOptions{})
	require.NoError(t, pool.Start(context.Background()))

	<-started
	pool.Stop()

	assert.True(t, finished.Load())
	require.Len(t, src.results(), 1)
	assert.Equal(t, "ack", src.results()[0].action)

	select {
	case <-pool.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestPool_StartTwice(t *testing.T) {
	subCfg, procCfg := testConfigs(1)
	pool := NewPool("twice", subCfg, procCfg, newFakeSource(), func(ctx context.Context, msg *Message) *JobResp {
		return &JobResp{Action: ActionSuccess}
	}, logger.NewNopLogger(), PoolOptions{})

	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolStarted)
	pool.Stop()
	pool.Stop()
}

func TestPool_StopsWhenContextCancelled(t *testing.T) {
	subCfg, procCfg := testConfigs(1)
	pool := NewPool("ctx", subCfg, procCfg, newFakeSource(), func(ctx context.Context, msg *Message) *JobResp {
		return &JobResp{Action: ActionSuccess}
	}, logger.NewNopLogger(), PoolOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))
	cancel()

	select {
	case <-pool.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}

type recordingObserver struct {
	mu      sync.Mutex
	actions []Action
}

func (o *recordingObserver) Observe(ctx context.Context, msg *Message, resp *JobResp) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actions = append(o.actions, resp.Action)
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.actions)
}

func TestPool_MiddlewareAndObservers(t *testing.T) {
	src := newFakeSource("boom", "nil")
	proc := func(ctx context.Context, msg *Message) *JobResp {
		if msg.ID == "boom" {
			panic("exploded")
		}
		return nil
	}

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	obs := &recordingObserver{}
	log := logger.NewNopLogger()

	subCfg, procCfg := testConfigs(1)
	pool := NewPool("mw", subCfg, procCfg, src, proc, log, PoolOptions{
		Middlewares: []Middleware{Recover(log), Logging(log), metrics.Middleware()},
		Observers:   []OutcomeObserver{obs},
	})
	require.NoError(t, pool.Start(context.Background()))

	require.Eventually(t, func() bool { return obs.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	pool.Stop()

	for _, s := range src.results() {
		assert.Equal(t, "nack", s.action)
		assert.True(t, s.requeue)
	}
	assert.Equal(t, float64(0), gaugeValue(t, metrics.inFlight.WithLabelValues("q")))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Proc) Proc {
			return func(ctx context.Context, msg *Message) *JobResp {
				order = append(order, name)
				return next(ctx, msg)
			}
		}
	}
	proc := Chain(func(ctx context.Context, msg *Message) *JobResp {
		order = append(order, "proc")
		return &JobResp{}
	}, mw("outer"), mw("inner"))

	proc(context.Background(), &Message{})
	assert.Equal(t, []string{"outer", "inner", "proc"}, order)
}

func TestMetrics_CountsOutcomes(t *testing.T) {
	m := NewMetrics(nil)
	proc := Chain(func(ctx context.Context, msg *Message) *JobResp {
		return &JobResp{Action: ActionBury, Kind: "k"}
	}, m.Middleware())

	proc(context.Background(), &Message{Queue: "q"})
	proc(context.Background(), &Message{Queue: "q"})

	assert.Equal(t, float64(2), counterValue(t, m.processed.WithLabelValues("q", "k", "bury")))
}

func TestMetrics_UnsupportedKindsShareOneLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	n := 0
	proc := Chain(func(ctx context.Context, msg *Message) *JobResp {
		n++
		return &JobResp{Action: ActionBury, Kind: fmt.Sprintf("bogus-%d", n), Unsupported: true}
	}, m.Middleware())

	proc(context.Background(), &Message{Queue: "q"})
	proc(context.Background(), &Message{Queue: "q"})

	assert.Equal(t, float64(2), counterValue(t, m.processed.WithLabelValues("q", "unknown", "bury")))

	families, err := reg.Gather()
	require.NoError(t, err)
	series := 0
	for _, f := range families {
		if f.GetName() == "jobrouter_jobs_processed_total" {
			series = len(f.GetMetric())
		}
	}
	assert.Equal(t, 1, series)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	return out.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, g.Write(&out))
	return out.GetGauge().GetValue()
}
