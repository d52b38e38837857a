// Package metrics exposes Prometheus collectors for the crawler.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerFetchesTotal           *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerAttemptsTotal          *prometheus.CounterVec
	crawlerProxyFailuresTotal     prometheus.Counter
	crawlerProxyEvictionsTotal    prometheus.Counter
	crawlerItemsTotal             *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerFrontierPending        prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Terminal fetch outcomes, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_attempts_total",
				Help: "Physical fetch attempts, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerProxyFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_proxy_failures_total",
				Help: "Attempts that failed while routed through an upstream proxy.",
			},
		)

		crawlerProxyEvictionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_proxy_evictions_total",
				Help: "Proxies evicted after a blocked page or repeated failures.",
			},
		)

		crawlerItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_items_total",
				Help: "Items extracted by item handlers, labeled by handler.",
			},
			[]string{"handler"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a URL.",
			},
		)

		crawlerFrontierPending = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_frontier_pending",
				Help: "Entries queued or in flight on the frontier.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Requests served by the stats API, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of stats API latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch counts a terminal outcome and the body bytes it carried.
func ObserveFetch(rawURL, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	crawlerFetchesTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveAttempt counts one physical attempt ("ok", "timeout", "transport", "proxy").
func ObserveAttempt(result string) {
	Init()
	crawlerAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveProxyFailure counts a failed attempt routed through a proxy.
func ObserveProxyFailure() {
	Init()
	crawlerProxyFailuresTotal.Inc()
}

// ObserveProxyEviction counts an evicted proxy.
func ObserveProxyEviction() {
	Init()
	crawlerProxyEvictionsTotal.Inc()
}

// ObserveItem counts an item extracted by the named handler.
func ObserveItem(handler string) {
	Init()
	crawlerItemsTotal.WithLabelValues(handler).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// SetFrontierPending publishes the frontier's pending count.
func SetFrontierPending(n int) {
	Init()
	crawlerFrontierPending.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
