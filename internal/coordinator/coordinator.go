// Package coordinator drives one scrape run from seeding to persistence.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-scraper/internal/scrape"
	"github.com/JakeFAU/catalog-scraper/internal/supervisor"
)

// ErrNoSink is returned when a run has nowhere to write its records.
var ErrNoSink = errors.New("coordinator: sink is required")

// Pool is the supervisor surface the coordinator drives.
type Pool interface {
	Populate(tasks []scrape.Task) int
	SpawnPool(ctx context.Context, n int) error
	Supervise(ctx context.Context) error
	Stats() supervisor.Stats
}

// Config controls a run.
type Config struct {
	Workers     int
	Destination string
}

// Coordinator wires the pool, result queue and sink together.
type Coordinator struct {
	cfg       Config
	pool      Pool
	results   scrape.ResultQueue
	sink      scrape.Sink
	publisher scrape.Publisher
	ids       scrape.IDGenerator
	clock     scrape.Clock
	logger    *zap.Logger
}

// New constructs a Coordinator. publisher, ids and clock may be nil.
func New(
	cfg Config,
	pool Pool,
	results scrape.ResultQueue,
	sink scrape.Sink,
	publisher scrape.Publisher,
	ids scrape.IDGenerator,
	clock scrape.Clock,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:       cfg,
		pool:      pool,
		results:   results,
		sink:      sink,
		publisher: publisher,
		ids:       ids,
		clock:     clock,
		logger:    logger,
	}
}

// Run seeds the queue, supervises the pool until every worker has stopped,
// drains the results and writes them to the sink exactly once.
//
// Page and item failures never fail the run. A sink failure does. If ctx is
// canceled the records gathered so far are still written and the
// cancellation is returned afterwards.
func (c *Coordinator) Run(ctx context.Context, tasks []scrape.Task) (scrape.Summary, error) {
	if c.sink == nil {
		return scrape.Summary{}, ErrNoSink
	}
	runID := c.newRunID()
	logger := c.logger.With(zap.String("run_id", runID))

	queued := c.pool.Populate(tasks)
	if err := c.pool.SpawnPool(ctx, c.cfg.Workers); err != nil {
		return scrape.Summary{}, fmt.Errorf("start workers: %w", err)
	}
	superviseErr := c.pool.Supervise(ctx)
	if superviseErr != nil {
		logger.Warn("supervision interrupted, saving partial results", zap.Error(superviseErr))
	}

	records := c.results.DrainAll()
	writeCtx := context.WithoutCancel(ctx)
	if err := c.sink.Write(writeCtx, records); err != nil {
		return scrape.Summary{}, fmt.Errorf("write records: %w", err)
	}
	logger.Info(fmt.Sprintf("saved %d records to %s", len(records), c.cfg.Destination),
		zap.Int("records", len(records)),
		zap.String("destination", c.cfg.Destination),
	)

	stats := c.pool.Stats()
	summary := scrape.Summary{
		RunID:       runID,
		Tasks:       queued,
		Records:     len(records),
		Destination: c.cfg.Destination,
		Restarts:    stats.Restarts,
		TasksLost:   stats.TasksLost,
		FinishedAt:  c.now().Format(time.RFC3339),
	}
	c.notify(writeCtx, logger, summary)

	if superviseErr != nil {
		return summary, fmt.Errorf("supervise workers: %w", superviseErr)
	}
	return summary, nil
}

func (c *Coordinator) notify(ctx context.Context, logger *zap.Logger, summary scrape.Summary) {
	if c.publisher == nil {
		return
	}
	msgID, err := c.publisher.Publish(ctx, summary)
	if err != nil {
		logger.Warn("publish run summary failed", zap.Error(err))
		return
	}
	logger.Debug("run summary published", zap.String("message_id", msgID))
}

func (c *Coordinator) newRunID() string {
	if c.ids == nil {
		return ""
	}
	id, err := c.ids.NewID()
	if err != nil {
		c.logger.Warn("generate run id failed", zap.Error(err))
		return ""
	}
	return id
}

func (c *Coordinator) now() time.Time {
	if c.clock == nil {
		return time.Now().UTC()
	}
	return c.clock.Now()
}
