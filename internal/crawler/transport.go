package crawler

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// proxyHeader carries the attempt's proxy from the fetcher to the transport. It
// never leaves the process.
const proxyHeader = "X-Spinbot-Proxy"

type proxyKey struct{}

// proxyTransport lets every request choose its own upstream proxy while all
// workers share one connection pool.
type proxyTransport struct {
	base *http.Transport
}

func newProxyTransport(maxConnsPerHost int) *proxyTransport {
	base := &http.Transport{
		Proxy: proxyFromContext,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          128,
		MaxIdleConnsPerHost:   32,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &proxyTransport{base: base}
}

func (t *proxyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	addr := req.Header.Get(proxyHeader)
	host := req.Header.Get("Host")
	if addr == "" && host == "" {
		return t.base.RoundTrip(req)
	}

	ctx := req.Context()
	if addr != "" {
		proxyURL, err := parseProxyAddr(addr)
		if err != nil {
			return nil, err
		}
		ctx = context.WithValue(ctx, proxyKey{}, proxyURL)
	}
	out := req.Clone(ctx)
	out.Header.Del(proxyHeader)
	if host != "" {
		out.Host = host
		out.Header.Del("Host")
	}
	return t.base.RoundTrip(out)
}

// CloseIdleConnections releases pooled connections.
func (t *proxyTransport) CloseIdleConnections() {
	t.base.CloseIdleConnections()
}

func proxyFromContext(req *http.Request) (*url.URL, error) {
	if u, ok := req.Context().Value(proxyKey{}).(*url.URL); ok {
		return u, nil
	}
	return http.ProxyFromEnvironment(req)
}

func parseProxyAddr(addr string) (*url.URL, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", addr, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse proxy %q: missing host", addr)
	}
	return u, nil
}
