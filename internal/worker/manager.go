package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"soika/jobrouter/internal/bootstrap"
	"soika/jobrouter/internal/domains"
	"soika/jobrouter/internal/framework"
	"soika/jobrouter/internal/jobrouter"
	"soika/jobrouter/internal/scheduler"
	"soika/jobrouter/pkg/config"
	"soika/jobrouter/pkg/logger"
)

// Manager is the lifecycle a worker process drives.
type Manager interface {
	Start() error
	Shutdown()
}

// ManagerInstance runs the worker pools and the schedule of one process.
type ManagerInstance struct {
	ctx        context.Context
	cancel     context.CancelFunc
	cfg        *config.Config
	rt         *bootstrap.Runtime
	scheduler  *scheduler.Scheduler
	pools      []*framework.Pool
	closing    *atomic.Bool
	started    chan struct{}
	shutdownCh chan struct{}
	mu         sync.Mutex
	logger     logger.Logger
}

// NewManagerInstance builds the runtime from cfg.
func NewManagerInstance(cfg *config.Config, log logger.Logger, opts bootstrap.Options) (*ManagerInstance, error) {
	rt, err := bootstrap.New(cfg, log, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build runtime: %w", err)
	}
	return NewManagerWithRuntime(cfg, rt, log), nil
}

// NewManagerWithRuntime runs on an already assembled runtime.
func NewManagerWithRuntime(cfg *config.Config, rt *bootstrap.Runtime, log logger.Logger) *ManagerInstance {
	ctx, cancel := context.WithCancel(context.Background())
	return &ManagerInstance{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		rt:         rt,
		scheduler:  scheduler.New(rt.Router, log),
		closing:    atomic.NewBool(false),
		started:    make(chan struct{}),
		shutdownCh: make(chan struct{}),
		logger:     log,
	}
}

// Start connects, starts the pools and the schedule, then blocks until
// Shutdown.
func (m *ManagerInstance) Start() error {
	m.logger.Infof(m.ctx, "[Manager] Starting...")

	// 1. First connect; the adapter keeps reconnecting on failure and the
	// pools pick up once it is back
	if err := m.rt.Connect(m.ctx); err != nil {
		m.logger.Warnf(m.ctx, "[Manager] Initial connect failed: %v", err)
	}

	// 2. Start one pool per configured worker
	if err := m.loadWorkers(); err != nil {
		return fmt.Errorf("failed to load workers: %w", err)
	}

	// 3. Register and start the schedules
	if err := m.loadSchedules(); err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}
	m.scheduler.Start()

	m.logger.Infof(m.ctx, "[Manager] Start success, pools: %d, schedules: %d",
		len(m.pools), len(m.scheduler.Names()))
	close(m.started)

	// 4. Block until Shutdown
	<-m.shutdownCh
	return nil
}

// Started is closed once every pool is running.
func (m *ManagerInstance) Started() <-chan struct{} {
	return m.started
}

// Router exposes the router so the process can emit.
func (m *ManagerInstance) Router() *jobrouter.Router {
	return m.rt.Router
}

// Shutdown stops the schedule, drains every pool and closes the runtime.
func (m *ManagerInstance) Shutdown() {
	if !m.closing.CAS(false, true) {
		return
	}
	m.logger.Infof(m.ctx, "[Manager] Began to close")

	// 1. No new scheduled emits
	m.scheduler.Stop()

	// 2. Drain every pool in parallel
	m.mu.Lock()
	pools := m.pools
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, p := range pools {
		wg.Add(1)
		go func(p *framework.Pool) {
			defer wg.Done()
			m.logger.Infof(m.ctx, "[Manager] Shutting down pool: %s", p.Name())
			p.Stop()
		}(p)
	}
	wg.Wait()

	// 3. Close the connection and optional stores
	m.cancel()
	if err := m.rt.Close(); err != nil {
		m.logger.Errorf(m.ctx, "[Manager] Close runtime: %v", err)
	}

	// 4. Release Start
	close(m.shutdownCh)
	m.logger.Infof(m.ctx, "[Manager] Shutdown complete")
}

// loadWorkers starts a pool per configured worker, or a single default
// pool on the router queue.
func (m *ManagerInstance) loadWorkers() error {
	workers := m.cfg.Workers
	if len(workers) == 0 {
		workers = []config.WorkerConfig{{Name: "default", QueueName: m.cfg.Router.Queue}}
	}

	for _, w := range workers {
		pool, err := m.rt.Router.StartWorkers(m.ctx, jobrouter.WorkerOptions{
			Name:         w.Name,
			Queue:        w.QueueName,
			Concurrency:  w.Processor.Threads,
			Pullers:      w.Subscriber.Threads,
			Wait:         w.Subscriber.Timeout,
			Visibility:   w.Subscriber.TTR,
			Rate:         w.Subscriber.Rate,
			ErrorBackoff: w.Subscriber.ErrorBackoff,
			Timeout:      w.Processor.Timeout,
		})
		if err != nil {
			return fmt.Errorf("failed to start worker %s: %w", w.Name, err)
		}

		m.mu.Lock()
		m.pools = append(m.pools, pool)
		m.mu.Unlock()
		m.logger.Infof(m.ctx, "[Manager] Worker started: %s", w.Name)
	}
	return nil
}

// loadSchedules registers the built-in schedules plus the configured ones.
// Built-in search schedules are only added when a schedule store exists.
func (m *ManagerInstance) loadSchedules() error {
	var entries []scheduler.Entry
	if m.rt.DB != nil {
		for _, s := range domains.DefaultSchedules() {
			entries = append(entries, scheduler.Entry{Name: s.Name, Spec: s.Spec, Kind: s.Kind, Payload: s.Payload})
		}
	}
	for _, s := range m.cfg.Schedules {
		name := s.Name
		if name == "" {
			name = s.Kind + "@" + s.Spec
		}
		entries = append(entries, scheduler.Entry{Name: name, Spec: s.Spec, Kind: s.Kind, Payload: s.Payload})
	}

	for _, e := range entries {
		if err := m.scheduler.Add(e); err != nil {
			return err
		}
	}
	return nil
}
