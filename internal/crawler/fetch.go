package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/spinbot/internal/metrics"
)

// ProxyRotator supplies an upstream proxy per attempt and takes feedback about
// proxies that misbehave. An empty address means a direct connection.
type ProxyRotator interface {
	Next(ctx context.Context) (string, error)
	ReportFailure(addr string)
	Evict(addr string)
}

// HostLimiter throttles requests per host before each attempt.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

type directRotator struct{}

func (directRotator) Next(context.Context) (string, error) { return "", nil }
func (directRotator) ReportFailure(string)                 {}
func (directRotator) Evict(string)                         {}

// FetcherConfig bounds a single logical fetch.
type FetcherConfig struct {
	MaxTries        int
	Timeout         time.Duration
	MaxBodyBytes    int
	MaxConnsPerHost int
}

// Fetcher performs one logical GET with per-attempt proxies, a scoped timeout
// and retries on transport failures. Redirects are returned, never followed.
type Fetcher struct {
	cfg       FetcherConfig
	base      *colly.Collector
	transport *proxyTransport
	rotator   ProxyRotator
	headers   *HeaderSource
	limiter   HostLimiter
	logger    *zap.Logger
}

// NewFetcher builds a Fetcher around a shared colly backend.
func NewFetcher(
	cfg FetcherConfig,
	rotator ProxyRotator,
	headers *HeaderSource,
	limiter HostLimiter,
	logger *zap.Logger,
) *Fetcher {
	if cfg.MaxTries <= 0 {
		cfg.MaxTries = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if rotator == nil {
		rotator = directRotator{}
	}
	if headers == nil {
		headers = NewHeaderSource(nil, nil, "")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
	}
	if cfg.MaxBodyBytes > 0 {
		opts = append(opts, colly.MaxBodySize(cfg.MaxBodyBytes))
	}
	base := colly.NewCollector(opts...)
	transport := newProxyTransport(cfg.MaxConnsPerHost)
	base.WithTransport(transport)
	base.DisableCookies()
	base.SetRequestTimeout(cfg.Timeout)
	base.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})

	return &Fetcher{
		cfg:       cfg,
		base:      base,
		transport: transport,
		rotator:   rotator,
		headers:   headers,
		limiter:   limiter,
		logger:    logger,
	}
}

// Fetch tries rawURL up to MaxTries times. It returns a *FetchError once every
// attempt has failed. meta receives the proxy used for the final attempt.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, meta Metadata, extra http.Header) (Response, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxTries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Response{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		resp, proxyAddr, err := f.attempt(ctx, rawURL, meta, extra)
		if err == nil {
			resp.Attempts = attempt
			if attempt > 1 {
				f.logger.Info("retry succeeded", zap.String("url", rawURL), zap.Int("try", attempt))
			}
			return resp, nil
		}
		lastErr = err
		if proxyAddr != "" {
			f.rotator.ReportFailure(proxyAddr)
			metrics.ObserveProxyFailure()
		}
		f.logger.Info("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("try", attempt),
			zap.String("proxy", proxyAddr),
			zap.Error(err),
		)
	}
	f.logger.Error("fetch failed", zap.String("url", rawURL), zap.Int("tries", f.cfg.MaxTries), zap.Error(lastErr))
	return Response{}, &FetchError{URL: rawURL, Attempts: f.cfg.MaxTries, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, rawURL string, meta Metadata, extra http.Header) (Response, string, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			return Response{}, "", fmt.Errorf("rate limit: %w", err)
		}
	}

	proxyAddr, err := f.rotator.Next(ctx)
	if err != nil {
		metrics.ObserveAttempt("proxy")
		return Response{}, "", classifyAttemptError(fmt.Errorf("acquire proxy: %w", err))
	}
	if meta != nil {
		if proxyAddr != "" {
			meta[MetaProxy] = proxyAddr
		} else {
			delete(meta, MetaProxy)
		}
	}

	hdr := f.headers.Build(extra)
	if proxyAddr != "" {
		hdr.Set(proxyHeader, proxyAddr)
	}

	var (
		result Response
		got    bool
	)
	start := time.Now()
	collector := f.base.Clone()
	collector.Context = ctx
	collector.OnResponse(func(r *colly.Response) {
		header := http.Header{}
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		result = Response{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       append([]byte(nil), r.Body...),
			Proxy:      proxyAddr,
		}
		got = true
	})

	if err := collector.Request(http.MethodGet, rawURL, nil, nil, hdr); err != nil {
		classified := classifyAttemptError(err)
		if errors.Is(classified, ErrTimeout) {
			metrics.ObserveAttempt("timeout")
		} else {
			metrics.ObserveAttempt("transport")
		}
		return Response{}, proxyAddr, classified
	}
	if !got {
		metrics.ObserveAttempt("transport")
		return Response{}, proxyAddr, fmt.Errorf("%w: no response for %s", ErrTransport, rawURL)
	}
	metrics.ObserveAttempt("ok")
	result.Duration = time.Since(start)
	return result, proxyAddr, nil
}

// Close releases idle connections held by the shared transport.
func (f *Fetcher) Close() {
	f.transport.CloseIdleConnections()
}
