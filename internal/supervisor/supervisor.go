// Package supervisor spawns the worker pool and replaces workers that stop.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-scraper/internal/clock/system"
	"github.com/JakeFAU/catalog-scraper/internal/id/uuid"
	"github.com/JakeFAU/catalog-scraper/internal/metrics"
	"github.com/JakeFAU/catalog-scraper/internal/scrape"
)

// DefaultPollInterval is used when Config.PollInterval is unset.
const DefaultPollInterval = 2 * time.Second

// RestartPolicy decides which stopped workers get replaced.
type RestartPolicy string

// Supported restart policies.
const (
	// RestartAlways replaces every stopped worker while any worker is alive.
	RestartAlways RestartPolicy = "always"
	// RestartOnFault replaces only workers that ended with a fault.
	RestartOnFault RestartPolicy = "on_fault"
)

// ErrNoRunnerFactory is returned when spawning without a RunnerFactory.
var ErrNoRunnerFactory = errors.New("supervisor: runner factory is required")

// Config controls pool size and polling.
type Config struct {
	// PollInterval must be longer than the runners' pop timeout when
	// RestartPolicy is RestartAlways.
	PollInterval  time.Duration
	RestartPolicy RestartPolicy
}

// Stats summarizes worker lifecycle events.
type Stats struct {
	Spawned       int
	Restarts      int
	FaultRestarts int
	IdleExits     int
	Faults        int
	TasksLost     int
}

// Supervisor owns the pool of worker handles.
type Supervisor struct {
	cfg       Config
	tasks     scrape.TaskQueue
	newRunner RunnerFactory
	ids       scrape.IDGenerator
	clock     scrape.Clock
	metrics   *metrics.Collector
	logger    *zap.Logger

	mu      sync.Mutex
	handles []*WorkerHandle
	stats   Stats
}

// New constructs a Supervisor. Nil ids, clock and logger fall back to defaults.
//
// Under RestartAlways the poll interval must exceed the runners' idle pop
// timeout. Otherwise an idle replacement can still be alive at the next tick
// while its predecessor's slot is refilled, and two cohorts keep replacing
// each other on an empty queue.
func New(
	cfg Config,
	tasks scrape.TaskQueue,
	newRunner RunnerFactory,
	ids scrape.IDGenerator,
	clock scrape.Clock,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Supervisor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.RestartPolicy == "" {
		cfg.RestartPolicy = RestartAlways
	}
	if ids == nil {
		ids = uuid.New()
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg:       cfg,
		tasks:     tasks,
		newRunner: newRunner,
		ids:       ids,
		clock:     clock,
		metrics:   collector,
		logger:    logger,
	}
}

// Populate enqueues every initial task and returns how many were pushed.
// It must be called before SpawnPool.
func (s *Supervisor) Populate(tasks []scrape.Task) int {
	for _, task := range tasks {
		s.tasks.Push(task)
	}
	s.logger.Info("task queue populated", zap.Int("tasks", len(tasks)))
	return len(tasks)
}

// SpawnPool starts n workers, one handle per slot. If any spawn fails, the
// workers already started are stopped and joined before the error returns.
func (s *Supervisor) SpawnPool(ctx context.Context, n int) error {
	if s.newRunner == nil {
		return ErrNoRunnerFactory
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for slot := 0; slot < n; slot++ {
		h, err := s.spawnLocked(ctx, slot, metrics.ReasonInitial)
		if err != nil {
			s.abortLocked()
			return fmt.Errorf("spawn pool: %w", err)
		}
		s.handles = append(s.handles, h)
	}
	s.logger.Info("worker pool started", zap.Int("workers", n))
	return nil
}

// Supervise polls the pool every PollInterval and replaces stopped workers
// per the restart policy. It returns once no worker is alive and no fault is
// left unhandled, after joining every handle. On cancellation it stops
// replacing, joins every handle and returns the context error.
func (s *Supervisor) Supervise(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for s.reconcile(ctx) {
		select {
		case <-ctx.Done():
			s.join()
			return fmt.Errorf("supervise: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	s.join()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("supervise: %w", err)
	}
	s.logger.Info("all workers stopped")
	return nil
}

// Handles returns a snapshot of the current handle per slot.
func (s *Supervisor) Handles() []*WorkerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*WorkerHandle(nil), s.handles...)
}

// Stats returns lifecycle counters.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// reconcile runs one polling round and reports whether supervision continues.
func (s *Supervisor) reconcile(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	anyAlive := false
	pendingFault := false
	for _, h := range s.handles {
		switch {
		case h.Alive():
			anyAlive = true
		case !h.handled && h.ExitReason() == metrics.ReasonFault:
			pendingFault = true
		}
	}
	if !anyAlive && !pendingFault {
		return false
	}

	for slot, h := range s.handles {
		if h.Alive() || h.handled {
			continue
		}
		reason := s.accountLocked(h)
		if ctx.Err() != nil || !s.shouldReplace(reason) {
			continue
		}
		replacement, err := s.spawnLocked(ctx, slot, reason)
		if err != nil {
			s.logger.Error("worker replacement failed", zap.Int("slot", slot), zap.Error(err))
			continue
		}
		s.handles[slot] = replacement
		s.stats.Restarts++
		if reason == metrics.ReasonFault {
			s.stats.FaultRestarts++
		}
		s.logger.Info("worker replaced",
			zap.Int("slot", slot),
			zap.String("reason", reason),
			zap.String("previous_id", h.ID),
			zap.String("worker_id", replacement.ID),
		)
	}
	return true
}

func (s *Supervisor) shouldReplace(reason string) bool {
	switch reason {
	case metrics.ReasonFault:
		return true
	case metrics.ReasonIdle:
		return s.cfg.RestartPolicy == RestartAlways
	default:
		return false
	}
}

func (s *Supervisor) spawnLocked(ctx context.Context, slot int, reason string) (*WorkerHandle, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate worker id: %w", err)
	}
	h := startHandle(ctx, id, slot, s.clock.Now(), s.newRunner(id))
	s.stats.Spawned++
	s.metrics.WorkerStarted(reason)
	s.logger.Debug("worker spawned", zap.Int("slot", slot), zap.String("worker_id", id), zap.String("reason", reason))
	return h, nil
}

// accountLocked records the exit of a stopped handle exactly once.
func (s *Supervisor) accountLocked(h *WorkerHandle) string {
	h.handled = true
	reason := h.ExitReason()
	s.metrics.WorkerExited(reason)

	switch reason {
	case metrics.ReasonIdle:
		s.stats.IdleExits++
		s.logger.Debug("worker stopped idle", zap.Int("slot", h.Slot), zap.String("worker_id", h.ID))
	case metrics.ReasonFault:
		s.stats.Faults++
		fields := []zap.Field{
			zap.Int("slot", h.Slot),
			zap.String("worker_id", h.ID),
			zap.Duration("uptime", s.clock.Now().Sub(h.StartedAt)),
			zap.Error(h.err),
		}
		if fault, ok := scrape.AsFault(h.err); ok && fault.Task != "" {
			s.stats.TasksLost++
			s.metrics.ObserveTask(metrics.OutcomeLost)
			fields = append(fields, zap.String("task", string(fault.Task)))
		}
		s.logger.Warn("worker fault", fields...)
	default:
		s.logger.Debug("worker canceled", zap.Int("slot", h.Slot), zap.String("worker_id", h.ID), zap.Error(h.err))
	}
	return reason
}

// abortLocked stops every started handle and accounts its exit.
func (s *Supervisor) abortLocked() {
	for _, h := range s.handles {
		h.stop()
		if !h.handled {
			s.accountLocked(h)
		}
	}
	s.logger.Warn("worker pool start aborted", zap.Int("stopped", len(s.handles)))
}

// join waits for every handle and accounts the ones not yet seen.
func (s *Supervisor) join() {
	for _, h := range s.Handles() {
		<-h.Done()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.handles {
		if !h.handled {
			s.accountLocked(h)
		}
	}
}
