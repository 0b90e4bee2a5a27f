// Package headless contains browser-backed catalog sessions driven by chromedp.
package headless

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
	"github.com/JakeFAU/catalog-scraper/internal/scrape"
)

const defaultNavTimeout = 30 * time.Second

// Config controls the behavior of the browser sessions.
type Config struct {
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
}

// Factory launches one browser per session; it implements scrape.SessionFactory.
type Factory struct {
	cfg Config
}

// NewChromedp creates a session factory backed by chromedp.
func NewChromedp(cfg Config) (*Factory, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	return &Factory{cfg: cfg}, nil
}

// Open starts a dedicated browser process and returns a session bound to it.
// A browser that cannot start is reported as a worker fault.
func (f *Factory) Open(ctx context.Context) (scrape.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, f.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx, f.setupAction()); err != nil {
		browserCancel()
		allocCancel()
		return nil, scrape.NewFault(fmt.Errorf("launch browser: %w", err))
	}
	return &Session{
		cfg:           f.cfg,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

func (f *Factory) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if f.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	return append(opts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
}

func (f *Factory) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// Session drives a single browser tab, reused for every page the worker visits.
type Session struct {
	cfg           Config
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closeOnce     sync.Once
}

// List navigates to a listing page and returns its product addresses.
func (s *Session) List(ctx context.Context, task scrape.Task) ([]string, error) {
	html, finalURL, err := s.render(ctx, string(task))
	if err != nil {
		return nil, err
	}
	links, err := catalog.ParseListing(finalURL, bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing %s: %w", task, err)
	}
	return links, nil
}

// Extract navigates to a product page and returns its record without an ID.
func (s *Session) Extract(ctx context.Context, address string) (scrape.Record, error) {
	html, finalURL, err := s.render(ctx, address)
	if err != nil {
		return scrape.Record{}, err
	}
	fields, err := catalog.ParseProduct(finalURL, bytes.NewReader(html))
	if err != nil {
		return scrape.Record{}, fmt.Errorf("parse product %s: %w", address, err)
	}
	return scrape.Record{URL: address, Fields: fields}, nil
}

// Close shuts the tab and the browser process down.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.browserCancel != nil {
			s.browserCancel()
		}
		if s.allocCancel != nil {
			s.allocCancel()
		}
	})
	return nil
}

func (s *Session) render(ctx context.Context, url string) ([]byte, string, error) {
	if err := s.browserCtx.Err(); err != nil {
		return nil, "", scrape.NewFault(fmt.Errorf("browser session closed: %w", err))
	}

	runCtx, cancel := context.WithTimeout(s.browserCtx, s.navTimeout())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(runCtx, meta.captureEvent)

	var (
		html     string
		finalURL string
	)
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, "", s.classify(ctx, url, err)
	}

	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	if status >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("navigate %s: status %d", url, status)
	}
	return []byte(html), responseURL, nil
}

// classify separates per-page failures from a browser that is no longer usable.
func (s *Session) classify(ctx context.Context, url string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("headless fetch canceled: %w", ctx.Err())
	}
	if s.browserCtx.Err() != nil ||
		errors.Is(err, chromedp.ErrChannelClosed) ||
		errors.Is(err, chromedp.ErrInvalidTarget) ||
		errors.Is(err, chromedp.ErrInvalidContext) {
		return scrape.NewFault(fmt.Errorf("browser session lost on %s: %w", url, err))
	}
	return fmt.Errorf("chromedp run %s: %w", url, err)
}

func (s *Session) navTimeout() time.Duration {
	if s.cfg.NavigationTimeout > 0 {
		return s.cfg.NavigationTimeout
	}
	return defaultNavTimeout
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
