package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/atlascrawl/atlas/internal/extractor"
	"github.com/atlascrawl/atlas/internal/fetcher"
	"github.com/atlascrawl/atlas/internal/limiter"
	"github.com/atlascrawl/atlas/internal/normalize"
	"github.com/atlascrawl/atlas/internal/robots"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink is a RecordSink that just captures everything written, under a
// mutex since the worker pool writes concurrently.
type fakeSink struct {
	mu            sync.Mutex
	pages         []PageRecord
	edges         []extractor.EdgeRecord
	assets        []extractor.AssetRecord
	errors        []ErrorRecord
	accessibility []extractor.AccessibilityFindings
}

func (f *fakeSink) WritePage(p PageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, p)
	return nil
}

func (f *fakeSink) WriteEdge(e extractor.EdgeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edges = append(f.edges, e)
	return nil
}

func (f *fakeSink) WriteAsset(a extractor.AssetRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assets = append(f.assets, a)
	return nil
}

func (f *fakeSink) WriteError(e ErrorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, e)
	return nil
}

func (f *fakeSink) WriteAccessibility(a extractor.AccessibilityFindings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessibility = append(f.accessibility, a)
	return nil
}

func (f *fakeSink) pageDepths() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.pages))
	for i, p := range f.pages {
		out[i] = p.Depth
	}
	return out
}

// newTestScheduler wires every real component except the Renderer (left
// nil; the tests below only exercise raw mode, which fetchOrRender never
// routes through the Renderer, so a nil pointer is never dereferenced).
func newTestScheduler(t *testing.T, srv *httptest.Server, cfg Config, sink RecordSink) *Scheduler {
	t.Helper()
	host := mustHost(t, srv.URL)
	n, err := normalize.New(normalize.Policy{ParamPolicy: normalize.ParamPolicyKeep}, []string{host})
	require.NoError(t, err)

	cfg.Mode = "raw"
	return New(cfg, "atlas-test-agent", n, nil, limiter.New(limiter.Config{GlobalRPS: 1000, PerHostRPS: 1000, Burst: 50}),
		fetcher.New(nil), nil, extractor.New(n, nil), sink, nil)
}

func mustHost(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return u.Host
}

func linkPage(targets ...string) string {
	body := "<html><body>"
	for _, target := range targets {
		body += fmt.Sprintf(`<a href="%s">link</a>`, target)
	}
	body += "</body></html>"
	return body
}

func TestScheduler_BFSOrderingAcrossDepthBands(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/root", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, linkPage(srv.URL+"/c1", srv.URL+"/c2"))
	})
	mux.HandleFunc("/c1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, linkPage(srv.URL+"/gc"))
	})
	mux.HandleFunc("/c2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, linkPage())
	})
	mux.HandleFunc("/gc", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, linkPage())
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	sink := &fakeSink{}
	s := newTestScheduler(t, srv, Config{Concurrency: 1, MaxPages: 0, MaxDepth: -1, MaxErrors: -1}, sink)
	s.Seed([]string{srv.URL + "/root"})

	reason, stats := s.Run(context.Background())

	assert.Equal(t, CompletionFinished, reason)
	assert.Equal(t, 4, stats.PagesCompleted)
	assert.Equal(t, []int{0, 1, 1, 2}, sink.pageDepths())
}

func TestScheduler_MaxPagesCapsEnqueueAndCompletion(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/root", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, linkPage(srv.URL+"/c0", srv.URL+"/c1", srv.URL+"/c2", srv.URL+"/c3", srv.URL+"/c4"))
	})
	for i := 0; i < 5; i++ {
		mux.HandleFunc(fmt.Sprintf("/c%d", i), func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, linkPage())
		})
	}
	srv = httptest.NewServer(mux)
	defer srv.Close()

	sink := &fakeSink{}
	s := newTestScheduler(t, srv, Config{Concurrency: 1, MaxPages: 2, MaxDepth: -1, MaxErrors: -1}, sink)
	s.Seed([]string{srv.URL + "/root"})

	reason, stats := s.Run(context.Background())

	assert.Equal(t, CompletionCapped, reason)
	assert.Equal(t, 2, stats.PagesCompleted)
	assert.Len(t, sink.pages, 2)
}

func TestScheduler_MaxErrorsAbortOnFirst(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sink := &fakeSink{}
	s := newTestScheduler(t, srv, Config{Concurrency: 1, MaxPages: 0, MaxDepth: -1, MaxErrors: 0}, sink)
	s.Seed([]string{srv.URL + "/missing"})

	reason, stats := s.Run(context.Background())

	assert.Equal(t, CompletionErrorBudget, reason)
	assert.Equal(t, 0, stats.PagesCompleted)
	assert.Equal(t, 1, stats.ErrorsCount)
	assert.Len(t, sink.errors, 1)
}

func TestScheduler_MaxDepthZeroCrawlsSeedsOnly(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/root", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, linkPage(srv.URL+"/child"))
	})
	mux.HandleFunc("/child", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, linkPage())
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	sink := &fakeSink{}
	s := newTestScheduler(t, srv, Config{Concurrency: 1, MaxPages: 0, MaxDepth: 0, MaxErrors: -1}, sink)
	s.Seed([]string{srv.URL + "/root"})

	reason, stats := s.Run(context.Background())

	assert.Equal(t, CompletionFinished, reason)
	assert.Equal(t, 1, stats.PagesCompleted)
	assert.Equal(t, []int{0}, sink.pageDepths())
}

func TestScheduler_ManualCancelPreemptsQueuedWork(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/root", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, linkPage())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sink := &fakeSink{}
	s := newTestScheduler(t, srv, Config{Concurrency: 1, MaxPages: 0, MaxDepth: -1, MaxErrors: -1}, sink)
	s.Seed([]string{srv.URL + "/root"})
	s.Cancel()

	reason, stats := s.Run(context.Background())

	assert.Equal(t, CompletionManual, reason)
	assert.Equal(t, 0, stats.PagesCompleted)
}

func TestScheduler_RobotsDisallowedRecordsErrorAndCountsTowardBudget(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /\n")
	})
	mux.HandleFunc("/root", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, linkPage())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	host := mustHost(t, srv.URL)
	n, err := normalize.New(normalize.Policy{ParamPolicy: normalize.ParamPolicyKeep}, []string{host})
	require.NoError(t, err)

	sink := &fakeSink{}
	s := New(Config{Concurrency: 1, MaxPages: 0, MaxDepth: -1, MaxErrors: 0, Mode: "raw", RespectRobots: true},
		"atlas-test-agent", n, robots.New("atlas-test-agent", nil),
		limiter.New(limiter.Config{GlobalRPS: 1000, PerHostRPS: 1000, Burst: 50}),
		fetcher.New(nil), nil, extractor.New(n, nil), sink, nil)
	s.Seed([]string{srv.URL + "/root"})

	reason, stats := s.Run(context.Background())

	assert.Equal(t, CompletionErrorBudget, reason)
	assert.Equal(t, 0, stats.PagesCompleted)
	assert.Equal(t, 1, stats.ErrorsCount)
	require.Len(t, sink.errors, 1)
	assert.Equal(t, "robots_blocked", sink.errors[0].Kind)
}
