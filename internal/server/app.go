// Package server builds the scraper's dependencies, runs one scrape and
// hosts the optional observability endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
	"github.com/JakeFAU/catalog-scraper/internal/clock/system"
	"github.com/JakeFAU/catalog-scraper/internal/config"
	"github.com/JakeFAU/catalog-scraper/internal/coordinator"
	collyfetcher "github.com/JakeFAU/catalog-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/catalog-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-scraper/internal/hash/sha256"
	"github.com/JakeFAU/catalog-scraper/internal/id/uuid"
	"github.com/JakeFAU/catalog-scraper/internal/metrics"
	gcppublisher "github.com/JakeFAU/catalog-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/catalog-scraper/internal/queue/memory"
	"github.com/JakeFAU/catalog-scraper/internal/scrape"
	"github.com/JakeFAU/catalog-scraper/internal/sink"
	"github.com/JakeFAU/catalog-scraper/internal/supervisor"
	"github.com/JakeFAU/catalog-scraper/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	metrics     *metrics.Collector
	tasks       []scrape.Task
	pool        *supervisor.Supervisor
	coordinator *coordinator.Coordinator
	closers     []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("workers", cfg.Scraper.WorkerCount),
		zap.Int("pages", cfg.Scraper.PageCount),
		zap.String("engine", cfg.Fetch.Engine),
		zap.String("restart_policy", cfg.Scraper.RestartPolicy),
	)

	collector, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("metrics init failed: %w", err)
	}
	app.metrics = collector

	sessions, err := setupSessions(app)
	if err != nil {
		return nil, err
	}

	out, closeSink, err := sink.Open(ctx, cfg.Output.Destination, sink.Options{PostgresTable: cfg.Output.PostgresTable})
	if err != nil {
		return nil, fmt.Errorf("sink init failed: %w", err)
	}
	app.closers = append(app.closers, namedCloser{name: "sink", close: closeSink})
	app.logger.Info("sink ready",
		zap.String("kind", sink.Kind(cfg.Output.Destination)),
		zap.String("destination", cfg.Output.Destination),
	)

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	taskQueue := memory.NewTaskQueue()
	resultQueue := memory.NewResultQueue()
	hasher := sha256.New()
	clock := system.New()
	workerCfg := worker.Config{
		PopTimeout: cfg.Scraper.PopTimeout,
		DirectEmit: cfg.Scraper.DirectEmit,
	}
	workerLogger := app.logger.Named("worker")
	newRunner := func(id string) supervisor.Runner {
		return worker.New(id, taskQueue, resultQueue, sessions, hasher, collector, workerCfg, workerLogger)
	}

	app.pool = supervisor.New(supervisor.Config{
		PollInterval:  cfg.Scraper.PollInterval,
		RestartPolicy: supervisor.RestartPolicy(cfg.Scraper.RestartPolicy),
	}, taskQueue, newRunner, uuid.WithPrefix("worker-"), clock, collector, app.logger.Named("supervisor"))

	app.coordinator = coordinator.New(coordinator.Config{
		Workers:     cfg.Scraper.WorkerCount,
		Destination: cfg.Output.Destination,
	}, app.pool, resultQueue, out, summaryPublisher(publisher), uuid.New(), clock, app.logger)

	for _, page := range catalog.PageURLs(cfg.Scraper.BaseURL, cfg.Scraper.PageCount) {
		app.tasks = append(app.tasks, scrape.Task(page))
	}
	return app, nil
}

func setupSessions(app *App) (scrape.SessionFactory, error) {
	switch app.cfg.Fetch.Engine {
	case "colly":
		app.logger.Info("using colly sessions", zap.String("user_agent", app.cfg.Fetch.UserAgent))
		return collyfetcher.New(collyfetcher.Config{
			UserAgent: app.cfg.Fetch.UserAgent,
			Timeout:   app.cfg.Fetch.Timeout,
		}), nil
	default:
		factory, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			Headless:          app.cfg.Fetch.HeadlessMode,
			UserAgent:         app.cfg.Fetch.UserAgent,
			NavigationTimeout: app.cfg.Fetch.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("headless session init failed: %w", err)
		}
		app.logger.Info("using chromedp sessions", zap.Bool("headless", app.cfg.Fetch.HeadlessMode))
		return factory, nil
	}
}

// summaryPublisher returns an untyped nil when no topic is configured so the
// coordinator skips publishing.
func summaryPublisher(p *gcppublisher.Publisher) scrape.Publisher {
	if p == nil {
		return nil
	}
	return p
}

func setupPublisher(ctx context.Context, app *App) (*gcppublisher.Publisher, error) {
	if !app.cfg.PubSubEnabled() {
		app.logger.Debug("no Pub/Sub topic configured, run summary will not be published")
		return nil, nil
	}
	publisher, err := gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.closers = append(app.closers, namedCloser{name: "pubsub", close: publisher.Close})
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return publisher, nil
}

// Tasks returns the listing pages the run will enqueue.
func (a *App) Tasks() []scrape.Task {
	return append([]scrape.Task(nil), a.tasks...)
}

// Run performs one scrape. SIGINT and SIGTERM cancel the run; records
// gathered up to that point are still written.
func (a *App) Run(ctx context.Context) (scrape.Summary, error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if a.cfg.Metrics.ListenAddr != "" {
		srv = &http.Server{
			Addr:              a.cfg.Metrics.ListenAddr,
			Handler:           NewRouter(a.metrics, a.pool, a.logger.Named("http")),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("metrics server started", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	summary, err := a.coordinator.Run(ctx, a.tasks)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.logger.Warn("metrics server shutdown error", zap.Error(serr))
		}
	}
	if err != nil {
		return summary, fmt.Errorf("scrape run: %w", err)
	}
	return summary, nil
}

// Close releases backend clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
