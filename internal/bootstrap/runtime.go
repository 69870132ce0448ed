// Package bootstrap assembles the driver, adapter, router and optional
// infrastructure from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"soika/jobrouter/internal/domains"
	"soika/jobrouter/internal/framework"
	"soika/jobrouter/internal/jobrouter"
	"soika/jobrouter/internal/transport"
	"soika/jobrouter/internal/transport/memory"
	"soika/jobrouter/pkg/config"
	"soika/jobrouter/pkg/infra/mysql"
	redisx "soika/jobrouter/pkg/infra/redis"
	"soika/jobrouter/pkg/lmstfy"
	"soika/jobrouter/pkg/logger"
)

const optionalPingTimeout = 2 * time.Second

// Options override parts of the assembly, mostly for tests.
type Options struct {
	// Driver replaces the configured driver.
	Driver transport.Driver
	// Deps replaces the handler collaborators built from config.
	Deps *domains.Deps
	// Registerer receives the processing metrics; nil keeps them private.
	Registerer prometheus.Registerer
}

// Runtime is everything a binary needs to emit and consume jobs.
type Runtime struct {
	Config   *config.Config
	Driver   transport.Driver
	Adapter  *transport.Adapter
	Registry *jobrouter.Registry
	Router   *jobrouter.Router
	Metrics  *framework.Metrics
	DB       *gorm.DB
	PubSub   *redisx.PubSub

	closers []func() error
	log     logger.Logger
}

// New assembles a Runtime without dialling anything. Only configuration
// errors fail it.
func New(cfg *config.Config, log logger.Logger, opts Options) (*Runtime, error) {
	rt := &Runtime{Config: cfg, log: log}

	driver := opts.Driver
	if driver == nil {
		d, err := NewDriver(cfg)
		if err != nil {
			return nil, err
		}
		driver = d
	}
	rt.Driver = driver

	rt.Adapter = transport.NewAdapter(driver, cfg.Router.Queue, log,
		transport.WithReconnectBackoff(cfg.Transport.ReconnectBackoff),
		transport.WithConnectTimeout(cfg.Transport.ConnectTimeout),
	)
	rt.closers = append(rt.closers, rt.Adapter.Close)

	var observers []framework.OutcomeObserver

	if cfg.MySQL.DSN != "" {
		db, err := mysql.Open(cfg.MySQL.DSN)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.DB = db
		rt.closers = append(rt.closers, func() error { return mysql.Close(db) })
		observers = append(observers, mysql.NewDeadLetterDAO(db, log))
	}

	if cfg.Redis.EventChannel != "" {
		ps := redisx.NewPubSub(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.EventChannel, log)
		rt.PubSub = ps
		rt.closers = append(rt.closers, ps.Close)
		observers = append(observers, ps)
	}

	deps := rt.defaultDeps()
	if opts.Deps != nil {
		deps = *opts.Deps
	}

	registry, err := jobrouter.NewRegistry(domains.Jobs(deps))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Registry = registry

	rt.Metrics = framework.NewMetrics(opts.Registerer)

	router, err := jobrouter.New(cfg.Router.Queue, rt.Adapter, registry, log,
		jobrouter.WithEmitWait(cfg.Router.EmitWait),
		jobrouter.WithDefaultMaxAttempts(cfg.Router.DefaultMaxAttempts),
		jobrouter.WithMetrics(rt.Metrics),
		jobrouter.WithObservers(observers...),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Router = router

	return rt, nil
}

func (rt *Runtime) defaultDeps() domains.Deps {
	deps := domains.Deps{
		Mailer:   &domains.LogMailer{Log: rt.log},
		Searcher: &domains.LogSearcher{Log: rt.log},
		Log:      rt.log,
	}
	if rt.DB != nil {
		deps.Schedules = mysql.NewScheduleDAO(rt.DB)
	}
	return deps
}

// Connect makes the first connection attempt. A failure is returned but
// the adapter keeps retrying in the background. Optional stores are only
// checked: an unreachable MySQL or Redis is logged and their observers
// keep retrying per call.
func (rt *Runtime) Connect(ctx context.Context) error {
	rt.checkOptional(ctx)
	return rt.Adapter.Connect(ctx)
}

func (rt *Runtime) checkOptional(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, optionalPingTimeout)
	defer cancel()

	if rt.DB != nil {
		if err := mysql.Ping(ctx, rt.DB); err != nil {
			rt.log.Warnf(ctx, "[Bootstrap] MySQL not reachable, dead letters and schedules unavailable until it is: %v", err)
		}
	}
	if rt.PubSub != nil {
		if err := rt.PubSub.Ping(ctx); err != nil {
			rt.log.Warnf(ctx, "[Bootstrap] Redis events not reachable, outcome events are dropped until it is: %v", err)
		}
	}
}

// Close releases everything in reverse order of creation.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// NewDriver builds the driver selected by transport.driver.
func NewDriver(cfg *config.Config) (transport.Driver, error) {
	switch cfg.Transport.Driver {
	case config.DriverLmstfy:
		return lmstfy.NewClient(cfg.Lmstfy.Host, cfg.Lmstfy.Port, cfg.Lmstfy.Namespace, cfg.Lmstfy.Token, cfg.Lmstfy.TTL)
	case config.DriverRedis:
		return redisx.NewQueue(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix), nil
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown transport driver %q", cfg.Transport.Driver)
	}
}
