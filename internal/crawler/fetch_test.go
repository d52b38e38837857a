package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRotator struct {
	mu       sync.Mutex
	addr     string
	err      error
	nexts    int
	failures []string
	evicted  []string
}

func (r *fakeRotator) Next(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nexts++
	return r.addr, r.err
}

func (r *fakeRotator) ReportFailure(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, addr)
}

func (r *fakeRotator) Evict(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted = append(r.evicted, addr)
}

type countingLimiter struct {
	mu    sync.Mutex
	calls []string
}

func (l *countingLimiter) Wait(_ context.Context, rawURL string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, rawURL)
	return nil
}

func deadAddr(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.Listener.Addr().String()
	srv.Close()
	return addr
}

func TestFetcher_SendsHeadersAndReturnsBody(t *testing.T) {
	t.Parallel()
	var gotUA, gotCookie, gotExtra string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCookie = r.Header.Get("Cookie")
		gotExtra = r.Header.Get("X-Route")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	f := NewFetcher(
		FetcherConfig{MaxTries: 2, Timeout: 2 * time.Second},
		nil,
		NewHeaderSource(NewUserAgentPool([]string{"spinbot-test"}), nil, "bid"),
		limiter,
		zap.NewNop(),
	)
	defer f.Close()

	extra := http.Header{}
	extra.Set("X-Route", "members")
	meta := Metadata{}
	resp, err := f.Fetch(context.Background(), srv.URL+"/page", meta, extra)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>hello</html>", string(resp.Body))
	require.Equal(t, 1, resp.Attempts)
	require.Equal(t, srv.URL+"/page", resp.FinalURL)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	require.Empty(t, resp.Proxy)
	require.Empty(t, meta.Proxy())

	require.Equal(t, "spinbot-test", gotUA)
	require.True(t, strings.HasPrefix(gotCookie, "bid="))
	require.Equal(t, "members", gotExtra)
	require.Equal(t, []string{srv.URL + "/page"}, limiter.calls)
}

func TestFetcher_DoesNotFollowRedirects(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusMovedPermanently)
			return
		}
		_, _ = w.Write([]byte("new"))
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{MaxTries: 1, Timeout: 2 * time.Second}, nil, nil, nil, nil)
	defer f.Close()

	resp, err := f.Fetch(context.Background(), srv.URL+"/old", Metadata{}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	require.Equal(t, "/new", resp.Header.Get("Location"))
}

func TestFetcher_ErrorStatusIsAResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rot := &fakeRotator{}
	f := NewFetcher(FetcherConfig{MaxTries: 3, Timeout: 2 * time.Second}, rot, nil, nil, nil)
	defer f.Close()

	resp, err := f.Fetch(context.Background(), srv.URL, Metadata{}, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, 1, rot.nexts, "a non-2xx status is not retried")
}

func TestFetcher_RetryExhaustion(t *testing.T) {
	t.Parallel()
	rot := &fakeRotator{}
	f := NewFetcher(FetcherConfig{MaxTries: 3, Timeout: time.Second}, rot, nil, nil, nil)
	defer f.Close()

	target := "http://" + deadAddr(t) + "/"
	_, err := f.Fetch(context.Background(), target, Metadata{}, nil)
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, 3, fe.Attempts)
	require.Equal(t, target, fe.URL)
	require.ErrorIs(t, err, ErrTransport)
	require.Equal(t, 3, rot.nexts)
	require.Empty(t, rot.failures, "direct attempts report no proxy failures")
}

func TestFetcher_TimeoutIsClassified(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := NewFetcher(FetcherConfig{MaxTries: 1, Timeout: 50 * time.Millisecond}, nil, nil, nil, nil)
	defer f.Close()

	_, err := f.Fetch(context.Background(), srv.URL, Metadata{}, nil)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestFetcher_RoutesThroughProxy(t *testing.T) {
	t.Parallel()
	var (
		mu          sync.Mutex
		seenHost    string
		leakedProxy string
	)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seenHost = r.Host
		leakedProxy = r.Header.Get(proxyHeader)
		mu.Unlock()
		_, _ = w.Write([]byte("proxied"))
	}))
	defer proxy.Close()

	addr := proxy.Listener.Addr().String()
	rot := &fakeRotator{addr: addr}
	f := NewFetcher(FetcherConfig{MaxTries: 1, Timeout: 2 * time.Second}, rot, nil, nil, nil)
	defer f.Close()

	meta := Metadata{}
	resp, err := f.Fetch(context.Background(), "http://site.invalid/page", meta, nil)
	require.NoError(t, err)
	require.Equal(t, "proxied", string(resp.Body))
	require.Equal(t, addr, resp.Proxy)
	require.Equal(t, addr, meta.Proxy())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "site.invalid", seenHost)
	require.Empty(t, leakedProxy)
}

func TestFetcher_DeadProxyIsReported(t *testing.T) {
	t.Parallel()
	addr := deadAddr(t)
	rot := &fakeRotator{addr: addr}
	f := NewFetcher(FetcherConfig{MaxTries: 2, Timeout: time.Second}, rot, nil, nil, nil)
	defer f.Close()

	_, err := f.Fetch(context.Background(), "http://site.invalid/", Metadata{}, nil)
	require.ErrorIs(t, err, ErrTransport)
	require.Equal(t, []string{addr, addr}, rot.failures)
}

func TestFetcher_RotatorErrorIsTransient(t *testing.T) {
	t.Parallel()
	errEmpty := errors.New("pool empty")
	rot := &fakeRotator{err: errEmpty}
	f := NewFetcher(FetcherConfig{MaxTries: 2, Timeout: time.Second}, rot, nil, nil, nil)
	defer f.Close()

	_, err := f.Fetch(context.Background(), "http://site.invalid/", Metadata{}, nil)
	require.ErrorIs(t, err, ErrTransport)
	require.ErrorIs(t, err, errEmpty)
	require.Equal(t, 2, rot.nexts)
}

func TestFetcher_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := NewFetcher(FetcherConfig{MaxTries: 3}, nil, nil, nil, nil)
	defer f.Close()

	_, err := f.Fetch(ctx, "http://site.invalid/", Metadata{}, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestParseProxyAddr(t *testing.T) {
	t.Parallel()
	u, err := parseProxyAddr("10.0.0.1:3128")
	require.NoError(t, err)
	require.Equal(t, "http://10.0.0.1:3128", u.String())

	u, err = parseProxyAddr("socks5://10.0.0.1:1080")
	require.NoError(t, err)
	require.Equal(t, "socks5", u.Scheme)

	_, err = parseProxyAddr("http://")
	require.Error(t, err)
}
