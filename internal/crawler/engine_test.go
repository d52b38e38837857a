package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubFetcher serves canned responses keyed by URL. Unknown URLs get a 404.
type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]Response
	errs  map[string]error
	calls map[string]int
	block chan struct{}
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		pages: make(map[string]Response),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (s *stubFetcher) html(rawURL, body string) {
	s.pages[rawURL] = htmlResponse(rawURL, body)
}

func (s *stubFetcher) redirect(rawURL, location string, status int) {
	h := http.Header{}
	h.Set("Location", location)
	s.pages[rawURL] = Response{URL: rawURL, FinalURL: rawURL, StatusCode: status, Header: h, Attempts: 1}
}

func (s *stubFetcher) Fetch(ctx context.Context, rawURL string, _ Metadata, _ http.Header) (Response, error) {
	s.mu.Lock()
	s.calls[rawURL]++
	resp, ok := s.pages[rawURL]
	err := s.errs[rawURL]
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Response{}, &FetchError{URL: rawURL, Attempts: 1, Err: ctx.Err()}
		}
	}
	if err != nil {
		return Response{}, err
	}
	if !ok {
		return Response{URL: rawURL, FinalURL: rawURL, StatusCode: http.StatusNotFound, Header: http.Header{}}, nil
	}
	return resp, nil
}

func (s *stubFetcher) callCount(rawURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[rawURL]
}

func newTestEngine(t *testing.T, cfg Config, fetcher PageFetcher) *Engine {
	t.Helper()
	if cfg.MaxTasks == 0 {
		cfg.MaxTasks = 3
	}
	e, err := NewEngine(cfg, fetcher, newTestPolicy(cfg.Seeds...), DispatcherConfig{MaxRequeues: 1}, nil, zap.NewNop())
	require.NoError(t, err)
	return e
}

func statsByURL(stats []FetchStatistic) map[string]FetchStatistic {
	out := make(map[string]FetchStatistic, len(stats))
	for _, s := range stats {
		out[s.URL] = s
	}
	return out
}

func TestEngine_FollowsAdmittedLinksOnly(t *testing.T) {
	t.Parallel()
	f := newStubFetcher()
	f.html("http://example.com/a", `<a href="/b">b</a><a href="http://other.com/x">x</a>`)
	f.html("http://example.com/b", `<p>no links</p>`)

	e := newTestEngine(t, Config{Seeds: []string{"http://example.com/a"}, MaxRedirect: 10}, f)
	report, err := e.Run(context.Background())
	require.NoError(t, err)
	require.False(t, report.Interrupted)
	require.Len(t, report.Stats, 2)

	byURL := statsByURL(report.Stats)
	a := byURL["http://example.com/a"]
	require.Equal(t, http.StatusOK, a.Status)
	require.Equal(t, 2, a.NumURLs)
	require.Equal(t, 1, a.NumNewURLs)
	b := byURL["http://example.com/b"]
	require.Equal(t, 0, b.NumURLs)
	require.Zero(t, f.callCount("http://other.com/x"))
}

func TestEngine_RedirectIsEnqueued(t *testing.T) {
	t.Parallel()
	f := newStubFetcher()
	f.redirect("http://example.com/old", "/new", http.StatusMovedPermanently)
	f.html("http://example.com/new", "ok")

	e := newTestEngine(t, Config{Seeds: []string{"http://example.com/old"}, MaxRedirect: 10}, f)
	report, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Stats, 2)

	old := statsByURL(report.Stats)["http://example.com/old"]
	require.Equal(t, http.StatusMovedPermanently, old.Status)
	require.Equal(t, "http://example.com/new", old.NextURL)
	require.NoError(t, old.Err)
	require.Equal(t, "redirect", old.Outcome())
	require.Equal(t, 1, f.callCount("http://example.com/new"))
}

func TestEngine_RedirectDecrementsBudget(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, Config{Seeds: []string{"http://example.com/"}, MaxRedirect: 10}, newStubFetcher())

	h := http.Header{}
	h.Set("Location", "/new")
	stat := e.followRedirect(
		Entry{URL: "http://example.com/old", RedirectBudget: 10, Meta: Metadata{"k": "v", MetaProxy: "p"}},
		Response{StatusCode: http.StatusMovedPermanently, Header: h},
		"/new",
	)
	require.Equal(t, "http://example.com/new", stat.NextURL)

	next, err := e.Frontier().Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "http://example.com/new", next.URL)
	require.Equal(t, 9, next.RedirectBudget)
	require.Equal(t, "v", next.Meta["k"])
	require.Empty(t, next.Meta.Proxy())
}

func TestEngine_RedirectChainIsAbandoned(t *testing.T) {
	t.Parallel()
	f := newStubFetcher()
	for i := 0; i < 5; i++ {
		f.redirect(fmt.Sprintf("http://example.com/r%d", i), fmt.Sprintf("/r%d", i+1), http.StatusFound)
	}

	e := newTestEngine(t, Config{Seeds: []string{"http://example.com/r0"}, MaxRedirect: 2}, f)
	report, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Stats, 3)

	last := statsByURL(report.Stats)["http://example.com/r2"]
	require.ErrorIs(t, last.Err, ErrRedirectChainExhausted)
	require.Equal(t, "http://example.com/r3", last.NextURL)
	require.Zero(t, f.callCount("http://example.com/r3"))
}

func TestEngine_RedirectToSeenURLStops(t *testing.T) {
	t.Parallel()
	f := newStubFetcher()
	f.redirect("http://example.com/a", "/b", http.StatusSeeOther)
	f.redirect("http://example.com/b", "/a", http.StatusSeeOther)

	e := newTestEngine(t, Config{Seeds: []string{"http://example.com/a"}, MaxRedirect: 10}, f)
	report, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Stats, 2)
	require.Equal(t, 1, f.callCount("http://example.com/a"))
}

func TestEngine_FailedFetchIsRecorded(t *testing.T) {
	t.Parallel()
	f := newStubFetcher()
	f.errs["http://example.com/down"] = &FetchError{URL: "http://example.com/down", Attempts: 4, Err: ErrTransport}

	e := newTestEngine(t, Config{Seeds: []string{"http://example.com/down"}}, f)
	report, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Stats, 1)

	stat := report.Stats[0]
	require.Equal(t, 0, stat.Status)
	require.Equal(t, 4, stat.Attempts)
	require.ErrorIs(t, stat.Err, ErrTransport)
	require.Equal(t, "failed", stat.Outcome())
}

func TestEngine_EverySeedFetchedOnce(t *testing.T) {
	t.Parallel()
	f := newStubFetcher()
	var seeds []string
	for i := 0; i < 12; i++ {
		u := fmt.Sprintf("http://example.com/p%d", i)
		seeds = append(seeds, u)
		f.html(u, `<a href="/p0">home</a>`)
	}
	seeds = append(seeds, seeds[0])

	e := newTestEngine(t, Config{Seeds: seeds, MaxTasks: 4}, f)
	report, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Stats, 12)
	for _, s := range seeds {
		require.Equal(t, 1, f.callCount(s), s)
	}
	require.Equal(t, 0, e.Frontier().Pending())
}

func TestEngine_SchemelessSeedIsFixed(t *testing.T) {
	t.Parallel()
	f := newStubFetcher()
	f.html("https://example.com", "ok")
	e, err := NewEngine(Config{Seeds: []string{"example.com"}, MaxTasks: 1}, f,
		newTestPolicy("https://example.com"), DispatcherConfig{}, nil, nil)
	require.NoError(t, err)

	_, err = e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, f.callCount("https://example.com"))
}

func TestEngine_InterruptReturnsPartialReport(t *testing.T) {
	t.Parallel()
	f := newStubFetcher()
	f.block = make(chan struct{})
	e := newTestEngine(t, Config{
		Seeds:         []string{"http://example.com/slow"},
		MaxTasks:      2,
		ShutdownGrace: 20 * time.Millisecond,
		RunID:         "run-1",
	}, f)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		deadline := time.Now().Add(time.Second)
		for f.callCount("http://example.com/slow") == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
	}()

	report, err := e.Run(ctx)
	require.NoError(t, err)
	require.True(t, report.Interrupted)
	require.Equal(t, "run-1", report.RunID)
	require.Len(t, report.Stats, 1)
	require.Error(t, report.Stats[0].Err)
}

func TestEngine_RejectsUnknownHandler(t *testing.T) {
	t.Parallel()
	_, err := NewEngine(Config{}, newStubFetcher(), newTestPolicy("http://example.com"), DispatcherConfig{
		Routes: []Route{{Name: "missing", Pattern: matchAll[0]}},
	}, nil, nil)
	require.ErrorIs(t, err, ErrHandlerSetup)
}

func TestEngine_EndToEndWithFetcher(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<a href="/b">b</a><a href="/old">old</a><a href="http://other.com/">x</a>`))
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<a href="/a">back</a>`))
	})
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b?from=old", http.StatusMovedPermanently)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	fetcher := NewFetcher(FetcherConfig{MaxTries: 2, Timeout: 2 * time.Second}, nil, nil, nil, nil)
	defer fetcher.Close()

	seed := srv.URL + "/a"
	e, err := NewEngine(Config{Seeds: []string{seed}, MaxTasks: 3, MaxRedirect: 5}, fetcher,
		newTestPolicy(seed), DispatcherConfig{}, nil, nil)
	require.NoError(t, err)

	report, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Stats, 4)

	byURL := statsByURL(report.Stats)
	require.Equal(t, 3, byURL[seed].NumURLs)
	require.Equal(t, 2, byURL[seed].NumNewURLs)
	require.Equal(t, srv.URL+"/b?from=old", byURL[srv.URL+"/old"].NextURL)
	require.Equal(t, http.StatusOK, byURL[srv.URL+"/b?from=old"].Status)

	sum := e.Recorder().Summary()
	require.Equal(t, 4, sum.Total)
	require.Equal(t, 3, sum.Outcomes["ok"])
	require.Equal(t, 1, sum.Outcomes["redirect"])
}
