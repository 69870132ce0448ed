// Package scheduler emits jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"soika/jobrouter/internal/jobrouter"
	"soika/jobrouter/pkg/logger"
)

// cronParser accepts standard 5-field expressions and descriptors such as
// "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Emitter is the part of a Router the scheduler uses.
type Emitter interface {
	Emit(ctx context.Context, kind string, payload any, opts ...jobrouter.DeliveryOption) error
}

// Entry is one repeatable emit.
type Entry struct {
	Name    string
	Spec    string
	Kind    string
	Payload any
	Options []jobrouter.DeliveryOption
}

// Scheduler emits its entries through an Emitter when they come due.
type Scheduler struct {
	cron    *cronlib.Cron
	emitter Emitter
	log     logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]Entry
	ids     map[string]cronlib.EntryID
}

// New builds a stopped Scheduler on UTC.
func New(emitter Emitter, log logger.Logger) *Scheduler {
	return &Scheduler{
		cron:    cronlib.New(cronlib.WithParser(cronParser), cronlib.WithLocation(time.UTC)),
		emitter: emitter,
		log:     log,
		timeout: 30 * time.Second,
		entries: make(map[string]Entry),
		ids:     make(map[string]cronlib.EntryID),
	}
}

// Add registers e. Names are unique and the cron expression must parse.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" || e.Kind == "" {
		return fmt.Errorf("schedule entry needs a name and a kind")
	}
	sched, err := ParseSchedule(e.Spec)
	if err != nil {
		return fmt.Errorf("schedule %s: invalid spec %q: %w", e.Name, e.Spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.Name]; ok {
		return fmt.Errorf("schedule %s already registered", e.Name)
	}

	name := e.Name
	id := s.cron.Schedule(sched, cronlib.FuncJob(func() {
		if err := s.Fire(context.Background(), name); err != nil {
			s.log.Errorf(context.Background(), "[Scheduler] %v", err)
		}
	}))
	s.entries[e.Name] = e
	s.ids[e.Name] = id
	return nil
}

// Remove drops an entry; unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.ids[name]; ok {
		s.cron.Remove(id)
		delete(s.ids, name)
		delete(s.entries, name)
	}
}

// Names lists the registered entries in sorted order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Next reports when name fires next.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.ids[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

// Fire emits entry name right away.
func (s *Scheduler) Fire(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule %s not found", name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.emitter.Emit(ctx, e.Kind, e.Payload, e.Options...); err != nil {
		return fmt.Errorf("schedule %s: emit %s: %w", e.Name, e.Kind, err)
	}
	s.log.Infof(ctx, "[Scheduler] %s emitted %s", e.Name, e.Kind)
	return nil
}

// Start runs due entries in the background.
func (s *Scheduler) Start() {
	s.log.Infof(context.Background(), "[Scheduler] Starting with %d entries", len(s.Names()))
	s.cron.Start()
}

// Stop halts the schedule and waits for running emits.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Infof(context.Background(), "[Scheduler] Stopped")
}
