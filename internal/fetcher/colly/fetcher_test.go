package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-scraper/internal/scrape"
)

const listingPage = `<html><body>
<article class="product_pod"><h3><a href="../../book-one_1/index.html">One</a></h3></article>
<article class="product_pod"><h3><a href="../../book-two_2/index.html">Two</a></h3></article>
</body></html>`

const productPage = `<html><body>
<ul class="breadcrumb"><li><a>Home</a></li><li><a>Books</a></li><li><a>Poetry</a></li></ul>
<div id="product_gallery"><img src="../../media/one.jpg"></div>
<h1>Book One</h1>
<p class="price_color">£10.00</p>
<p class="availability"> In stock </p>
<p class="star-rating Two"></p>
<table class="table-striped"><tr><th>UPC</th><td>u1</td></tr></table>
</body></html>`

func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/catalogue/category/books_1/page-1.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, listingPage)
	})
	mux.HandleFunc("/catalogue/book-one_1/index.html", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, productPage)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func openSession(t *testing.T) scrape.Session {
	t.Helper()
	session, err := New(Config{UserAgent: "test-agent", Timeout: 2 * time.Second}).Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, session.Close()) })
	return session
}

func TestSessionListAndExtract(t *testing.T) {
	t.Parallel()

	srv := newCatalogServer(t)
	session := openSession(t)

	links, err := session.List(context.Background(), scrape.Task(srv.URL+"/catalogue/category/books_1/page-1.html"))
	require.NoError(t, err)
	require.Equal(t, []string{
		srv.URL + "/catalogue/book-one_1/index.html",
		srv.URL + "/catalogue/book-two_2/index.html",
	}, links)

	rec, err := session.Extract(context.Background(), links[0])
	require.NoError(t, err)
	require.Equal(t, links[0], rec.URL)
	require.Empty(t, rec.ID)
	require.Equal(t, "Book One", rec.Fields["title"])
	require.Equal(t, "Two", rec.Fields["rating"])
	require.Equal(t, srv.URL+"/media/one.jpg", rec.Fields["image_url"])

	// Revisiting the same address is allowed.
	_, err = session.Extract(context.Background(), links[0])
	require.NoError(t, err)
}

func TestSessionExtractNotFound(t *testing.T) {
	t.Parallel()

	srv := newCatalogServer(t)
	session := openSession(t)

	_, err := session.Extract(context.Background(), srv.URL+"/catalogue/book-two_2/index.html")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 404")
	require.False(t, scrape.IsFault(err))
}

func TestSessionListCanceled(t *testing.T) {
	t.Parallel()

	srv := newCatalogServer(t)
	session := openSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := session.List(ctx, scrape.Task(srv.URL+"/catalogue/category/books_1/page-1.html"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestSessionsShareFactoryConcurrently(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		agents []string
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/catalogue/category/books_1/page-1.html", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.UserAgent())
		mu.Unlock()
		fmt.Fprint(w, listingPage)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	factory := New(Config{UserAgent: "shared-agent", Timeout: 2 * time.Second})
	const workers, fetches = 4, 5

	var wg sync.WaitGroup
	errs := make(chan error, workers*fetches)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			session, err := factory.Open(context.Background())
			if err != nil {
				errs <- err
				return
			}
			defer session.Close()
			for j := 0; j < fetches; j++ {
				links, err := session.List(context.Background(), scrape.Task(srv.URL+"/catalogue/category/books_1/page-1.html"))
				if err != nil {
					errs <- err
					continue
				}
				if len(links) != 2 {
					errs <- fmt.Errorf("got %d links", len(links))
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, agents, workers*fetches)
	for _, agent := range agents {
		require.Equal(t, "shared-agent", agent)
	}
}

func TestNewDefaultsTimeout(t *testing.T) {
	t.Parallel()

	require.Equal(t, defaultTimeout, New(Config{}).cfg.Timeout)
	require.Equal(t, time.Second, New(Config{Timeout: time.Second}).cfg.Timeout)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	var (
		result   page
		fetchErr error
	)
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	require.Equal(t, "https://example.com/final", result.url)
	require.Equal(t, "body", string(result.body))

	hooks.onError(&colly.Response{StatusCode: http.StatusServiceUnavailable}, errors.New("Service Unavailable"))
	require.EqualError(t, fetchErr, "status 503: Service Unavailable")

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
