// Package metrics exposes Prometheus collectors for the scraper.
package metrics

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome and reason label values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeLost      = "lost"

	ReasonInitial  = "initial"
	ReasonIdle     = "idle"
	ReasonFault    = "fault"
	ReasonCanceled = "canceled"

	KindList    = "list"
	KindExtract = "extract"
)

// Collector owns every scraper collector. A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	tasks         *prometheus.CounterVec
	items         *prometheus.CounterVec
	records       prometheus.Counter
	spawns        *prometheus.CounterVec
	exits         *prometheus.CounterVec
	workersAlive  prometheus.Gauge
	fetchDuration *prometheus.HistogramVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New registers the collectors against a fresh registry.
func New() (*Collector, error) {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_tasks_total",
			Help: "Listing tasks dequeued, labeled by outcome.",
		}, []string{"outcome"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_items_total",
			Help: "Product pages processed, labeled by site and outcome.",
		}, []string{"site", "outcome"}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scraper_records_total",
			Help: "Records handed to the result queue or emitted directly.",
		}),
		spawns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_worker_spawns_total",
			Help: "Workers started, labeled by the reason for the spawn.",
		}, []string{"reason"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_worker_exits_total",
			Help: "Workers that stopped, labeled by exit reason.",
		}, []string{"reason"}),
		workersAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_workers_alive",
			Help: "Workers currently running.",
		}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_fetch_duration_seconds",
			Help:    "Session call latency, labeled by call kind.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_http_requests_total",
			Help: "Requests served by the observability endpoint.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_http_request_duration_seconds",
			Help:    "Observability endpoint latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	for _, collector := range []prometheus.Collector{
		c.tasks,
		c.items,
		c.records,
		c.spawns,
		c.exits,
		c.workersAlive,
		c.fetchDuration,
		c.httpRequests,
		c.httpDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register scraper collector: %w", err)
		}
	}
	return c, nil
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler returns an http.Handler exposing the collectors.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveTask counts a dequeued listing task.
func (c *Collector) ObserveTask(outcome string) {
	if c == nil {
		return
	}
	c.tasks.WithLabelValues(outcome).Inc()
}

// ObserveItem counts a processed product page.
func (c *Collector) ObserveItem(address, outcome string) {
	if c == nil {
		return
	}
	c.items.WithLabelValues(SanitizeSite(address), outcome).Inc()
}

// ObserveRecord counts a produced record.
func (c *Collector) ObserveRecord() {
	if c == nil {
		return
	}
	c.records.Inc()
}

// ObserveFetch records one session call latency.
func (c *Collector) ObserveFetch(kind string, d time.Duration) {
	if c == nil {
		return
	}
	c.fetchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// WorkerStarted counts a spawn and bumps the alive gauge.
func (c *Collector) WorkerStarted(reason string) {
	if c == nil {
		return
	}
	c.spawns.WithLabelValues(reason).Inc()
	c.workersAlive.Inc()
}

// WorkerExited counts an exit and lowers the alive gauge.
func (c *Collector) WorkerExited(reason string) {
	if c == nil {
		return
	}
	c.exits.WithLabelValues(reason).Inc()
	c.workersAlive.Dec()
}

// ObserveHTTPRequest records one request served by the status endpoint.
func (c *Collector) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
