// Package worker implements the scrape loop run by each pool member.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-scraper/internal/metrics"
	"github.com/JakeFAU/catalog-scraper/internal/scrape"
)

// DefaultPopTimeout is the idle wait used when Config.PopTimeout is unset. It
// stays below supervisor.DefaultPollInterval.
const DefaultPopTimeout = time.Second

// State is the lifecycle position of a worker.
type State string

// Worker states.
const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching_task"
	StateExpanding  State = "expanding"
	StateProcessing State = "processing_subtask"
	StateStopped    State = "stopped"
)

// Config controls Worker behavior.
type Config struct {
	// PopTimeout is how long an idle worker waits for a task before stopping.
	PopTimeout time.Duration
	// DirectEmit logs records instead of queueing them. Diagnostic use only.
	DirectEmit bool
}

// Worker pulls listing tasks, expands them and extracts one record per product.
type Worker struct {
	id       string
	tasks    scrape.TaskQueue
	results  scrape.ResultQueue
	sessions scrape.SessionFactory
	hasher   scrape.Hasher
	metrics  *metrics.Collector
	cfg      Config
	logger   *zap.Logger

	state atomic.Value
}

// New constructs a Worker bound to the shared queues.
func New(
	id string,
	tasks scrape.TaskQueue,
	results scrape.ResultQueue,
	sessions scrape.SessionFactory,
	hasher scrape.Hasher,
	collector *metrics.Collector,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = DefaultPopTimeout
	}
	w := &Worker{
		id:       id,
		tasks:    tasks,
		results:  results,
		sessions: sessions,
		hasher:   hasher,
		metrics:  collector,
		cfg:      cfg,
		logger:   logger.With(zap.String("worker_id", id)),
	}
	w.setState(StateIdle)
	return w
}

// ID returns the worker identity.
func (w *Worker) ID() string {
	return w.id
}

// State reports the current lifecycle state.
func (w *Worker) State() State {
	s, _ := w.state.Load().(State)
	return s
}

func (w *Worker) setState(s State) {
	w.state.Store(s)
}

// Run consumes tasks until the queue stays empty for PopTimeout, in which case
// it returns nil. A worker fault is returned as a *scrape.FaultError carrying
// the in-flight task; item failures are logged and never end the loop.
func (w *Worker) Run(ctx context.Context) error {
	var session scrape.Session
	defer func() {
		w.setState(StateStopped)
		if session == nil {
			return
		}
		if cerr := session.Close(); cerr != nil {
			w.logger.Warn("session close failed", zap.Error(cerr))
		}
	}()

	for {
		w.setState(StateFetching)
		task, err := w.tasks.Pop(ctx, w.cfg.PopTimeout)
		if errors.Is(err, scrape.ErrQueueEmpty) {
			w.logger.Debug("task queue idle, stopping", zap.Duration("pop_timeout", w.cfg.PopTimeout))
			return nil
		}
		if err != nil {
			return fmt.Errorf("pop task: %w", err)
		}
		w.logger.Debug("dequeued task", zap.String("task", string(task)))

		if session == nil {
			session, err = w.sessions.Open(ctx)
			if err != nil {
				return w.fault(task, fmt.Errorf("open session: %w", err))
			}
		}

		if err := w.processTask(ctx, session, task); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("process task: %w", ctx.Err())
			}
			return w.fault(task, err)
		}
		w.setState(StateIdle)
	}
}

// processTask returns only worker faults; item errors are handled here.
func (w *Worker) processTask(ctx context.Context, session scrape.Session, task scrape.Task) error {
	w.setState(StateExpanding)
	start := time.Now()
	links, err := session.List(ctx, task)
	w.metrics.ObserveFetch(metrics.KindList, time.Since(start))
	if err != nil {
		if scrape.IsFault(err) || ctx.Err() != nil {
			return err
		}
		w.metrics.ObserveTask(metrics.OutcomeFailed)
		w.logger.Error("list page failed", zap.String("task", string(task)), zap.Error(err))
		return nil
	}
	w.logger.Debug("list page expanded", zap.String("task", string(task)), zap.Int("items", len(links)))

	for _, address := range links {
		w.setState(StateProcessing)
		if err := w.processItem(ctx, session, address); err != nil {
			return err
		}
	}
	w.metrics.ObserveTask(metrics.OutcomeSucceeded)
	return nil
}

func (w *Worker) processItem(ctx context.Context, session scrape.Session, address string) error {
	start := time.Now()
	rec, err := session.Extract(ctx, address)
	w.metrics.ObserveFetch(metrics.KindExtract, time.Since(start))
	if err != nil {
		if scrape.IsFault(err) || ctx.Err() != nil {
			return err
		}
		w.metrics.ObserveItem(address, metrics.OutcomeFailed)
		w.logger.Error("extract item failed", zap.String("url", address), zap.Error(err))
		return nil
	}

	rec.URL = address
	if w.hasher != nil {
		rec.ID = w.hasher.HashString(address)
	}
	w.metrics.ObserveItem(address, metrics.OutcomeSucceeded)
	w.metrics.ObserveRecord()

	if w.cfg.DirectEmit {
		w.logger.Info("record", zap.String("url", rec.URL), zap.String("id", rec.ID), zap.Any("fields", rec.Fields))
		return nil
	}
	w.results.Push(rec)
	return nil
}

func (w *Worker) fault(task scrape.Task, err error) error {
	fault, ok := scrape.AsFault(err)
	if !ok {
		fault = scrape.NewFault(err)
	}
	if fault.Task == "" {
		fault.Task = task
	}
	return fault
}
