// Package collyfetcher implements plain-HTTP catalog sessions using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
	"github.com/JakeFAU/catalog-scraper/internal/scrape"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Factory opens colly-backed sessions; it implements scrape.SessionFactory.
type Factory struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Factory sharing one pooled transport across sessions. Clones
// share the HTTP client, so its timeout is fixed here and never per fetch.
func New(cfg Config) *Factory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	return &Factory{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Open returns a new Session. Each fetch runs on its own collector clone.
func (f *Factory) Open(_ context.Context) (scrape.Session, error) {
	return &Session{base: f.baseCollector}, nil
}

// Session fetches pages over HTTP and parses them with the catalog package.
type Session struct {
	base *colly.Collector
}

type page struct {
	url  string
	body []byte
}

// List fetches a listing page and returns the product addresses on it.
func (s *Session) List(ctx context.Context, task scrape.Task) ([]string, error) {
	p, err := s.fetch(ctx, string(task))
	if err != nil {
		return nil, err
	}
	links, err := catalog.ParseListing(p.url, bytes.NewReader(p.body))
	if err != nil {
		return nil, fmt.Errorf("parse listing %s: %w", task, err)
	}
	return links, nil
}

// Extract fetches a product page and returns its record without an ID.
func (s *Session) Extract(ctx context.Context, address string) (scrape.Record, error) {
	p, err := s.fetch(ctx, address)
	if err != nil {
		return scrape.Record{}, err
	}
	fields, err := catalog.ParseProduct(p.url, bytes.NewReader(p.body))
	if err != nil {
		return scrape.Record{}, fmt.Errorf("parse product %s: %w", address, err)
	}
	return scrape.Record{URL: address, Fields: fields}, nil
}

// Close implements scrape.Session; colly holds no per-session resources.
func (s *Session) Close() error {
	return nil
}

func (s *Session) fetch(ctx context.Context, url string) (page, error) {
	if err := ctx.Err(); err != nil {
		return page{}, fmt.Errorf("colly fetch canceled: %w", err)
	}
	var (
		result   page
		fetchErr error
	)
	collector := s.buildCollector(&result, &fetchErr)
	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return page{}, err
	}
	return result, nil
}

func (s *Session) buildCollector(result *page, fetchErr *error) *colly.Collector {
	collector := s.base.Clone()
	configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, result *page, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = page{
			url:  r.Request.URL.String(),
			body: append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
