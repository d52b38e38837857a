package crawler

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/spinbot/internal/metrics"
)

// DefaultContentTypes are the MIME types whose bodies are parsed for links.
var DefaultContentTypes = []string{"text/html", "application/xml"}

// Page is what an item handler receives for a matched URL.
type Page struct {
	URL      string
	FinalURL string
	Status   int
	Header   http.Header
	Body     []byte
	Encoding string

	docOnce sync.Once
	doc     *goquery.Document
	docErr  error
}

// Document parses the body once and caches the result.
func (p *Page) Document() (*goquery.Document, error) {
	p.docOnce.Do(func() {
		p.doc, p.docErr = goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
		if p.docErr != nil {
			p.docErr = fmt.Errorf("parse document: %w", p.docErr)
		}
	})
	return p.doc, p.docErr
}

// ItemHandler extracts site-specific items from a fetched page. Handlers own
// persistence. They may call meta.MarkBlocked to request proxy eviction and a
// requeue of the URL.
type ItemHandler interface {
	HandleItem(ctx context.Context, page *Page, meta Metadata, items *ItemSet) error
}

// ItemHandlerFunc adapts a function to ItemHandler.
type ItemHandlerFunc func(ctx context.Context, page *Page, meta Metadata, items *ItemSet) error

// HandleItem calls f.
func (f ItemHandlerFunc) HandleItem(ctx context.Context, page *Page, meta Metadata, items *ItemSet) error {
	return f(ctx, page, meta, items)
}

// HeaderProvider is implemented by handlers that need extra request headers on
// the URLs their route matches.
type HeaderProvider interface {
	Headers() http.Header
}

// Route binds a path pattern to a named handler.
type Route struct {
	Name    string
	Pattern *regexp.Regexp
}

// DispatcherConfig wires routes to handlers.
type DispatcherConfig struct {
	Routes                []Route
	Handlers              map[string]ItemHandler
	AllowedContentTypes   []string
	DefaultRedirectBudget int
	MaxRequeues           int
}

// Dispatcher extracts links from successful pages, feeds admitted ones back to
// the frontier and routes the page to at most one item handler.
type Dispatcher struct {
	routes      []Route
	handlers    map[string]ItemHandler
	allowed     map[string]struct{}
	budget      int
	maxRequeues int
	frontier    *Frontier
	policy      *HostPolicy
	rotator     ProxyRotator
	items       *ItemSet
	logger      *zap.Logger
}

// NewDispatcher validates that every route names a registered handler.
func NewDispatcher(
	cfg DispatcherConfig,
	frontier *Frontier,
	policy *HostPolicy,
	rotator ProxyRotator,
	items *ItemSet,
	logger *zap.Logger,
) (*Dispatcher, error) {
	for _, r := range cfg.Routes {
		if r.Pattern == nil {
			return nil, fmt.Errorf("%w: route %q has no pattern", ErrHandlerSetup, r.Name)
		}
		if h, ok := cfg.Handlers[r.Name]; !ok || h == nil {
			return nil, fmt.Errorf("%w: route %q references an unregistered handler", ErrHandlerSetup, r.Name)
		}
	}
	types := cfg.AllowedContentTypes
	if len(types) == 0 {
		types = DefaultContentTypes
	}
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	if rotator == nil {
		rotator = directRotator{}
	}
	if items == nil {
		items = NewItemSet()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		routes:      append([]Route(nil), cfg.Routes...),
		handlers:    cfg.Handlers,
		allowed:     allowed,
		budget:      cfg.DefaultRedirectBudget,
		maxRequeues: cfg.MaxRequeues,
		frontier:    frontier,
		policy:      policy,
		rotator:     rotator,
		items:       items,
		logger:      logger,
	}, nil
}

// Match returns the first route whose pattern matches rawURL.
func (d *Dispatcher) Match(rawURL string) (Route, ItemHandler, bool) {
	for _, r := range d.routes {
		if r.Pattern.MatchString(rawURL) {
			return r, d.handlers[r.Name], true
		}
	}
	return Route{}, nil, false
}

// HeadersFor returns route-specific request headers for rawURL, if any.
func (d *Dispatcher) HeadersFor(rawURL string) http.Header {
	_, h, ok := d.Match(rawURL)
	if !ok {
		return nil
	}
	if hp, ok := h.(HeaderProvider); ok {
		return hp.Headers()
	}
	return nil
}

// Process builds the statistic for a non-redirect response. It returns the
// links that passed the admission policy.
func (d *Dispatcher) Process(ctx context.Context, entry Entry, resp Response) (FetchStatistic, []string) {
	finalURL := resp.FinalURL
	if finalURL == "" {
		finalURL = entry.URL
	}
	stat := FetchStatistic{
		URL:      finalURL,
		Status:   resp.StatusCode,
		Size:     len(resp.Body),
		Attempts: resp.Attempts,
		Proxy:    resp.Proxy,
		Duration: resp.Duration,
	}
	if resp.StatusCode != http.StatusOK {
		return stat, nil
	}

	contentType, encoding := parseContentType(resp.Header.Get("Content-Type"))
	stat.ContentType = contentType
	stat.Encoding = encoding
	if _, ok := d.allowed[contentType]; !ok {
		d.logger.Debug("skipping body",
			zap.String("url", finalURL),
			zap.String("content_type", contentType),
			zap.Error(ErrContentTypeRejected),
		)
		return stat, nil
	}

	found := ExtractLinks(finalURL, resp.Body)
	if len(found) > 0 {
		d.logger.Info("extracted links", zap.String("url", finalURL), zap.Int("distinct", len(found)))
	}
	stat.NumURLs = len(found)
	admitted := make([]string, 0, len(found))
	for _, link := range found {
		if !d.policy.URLAllowed(link) {
			continue
		}
		admitted = append(admitted, link)
		if d.frontier.Enqueue(link, d.budget, entry.Meta.Clone()) {
			stat.NumNewURLs++
		}
	}

	stat.Handler = d.dispatch(ctx, entry, resp, finalURL, encoding)
	return stat, admitted
}

func (d *Dispatcher) dispatch(ctx context.Context, entry Entry, resp Response, finalURL, encoding string) string {
	route, handler, ok := d.Match(finalURL)
	if !ok {
		return ""
	}
	meta := entry.Meta
	if meta == nil {
		meta = Metadata{}
	}
	page := &Page{
		URL:      entry.URL,
		FinalURL: finalURL,
		Status:   resp.StatusCode,
		Header:   resp.Header,
		Body:     resp.Body,
		Encoding: encoding,
	}
	if err := handler.HandleItem(ctx, page, meta, d.items); err != nil {
		d.logger.Warn("item handler failed",
			zap.String("handler", route.Name),
			zap.String("url", finalURL),
			zap.Error(err),
		)
	}
	if meta.Blocked() {
		d.requeueBlocked(entry, meta)
	}
	return route.Name
}

// requeueBlocked evicts the proxy that produced an empty page and puts the URL
// back on the frontier, up to maxRequeues times.
func (d *Dispatcher) requeueBlocked(entry Entry, meta Metadata) {
	if addr := meta.Proxy(); addr != "" {
		d.rotator.Evict(addr)
		metrics.ObserveProxyEviction()
	}
	n := meta.Requeues()
	if n >= d.maxRequeues {
		d.logger.Warn("giving up on blocked url", zap.String("url", entry.URL), zap.Int("requeues", n))
		return
	}
	next := meta.Clone()
	next[MetaRequeues] = strconv.Itoa(n + 1)
	d.frontier.Requeue(Entry{URL: entry.URL, RedirectBudget: d.budget, Meta: next})
	d.logger.Info("requeued blocked url", zap.String("url", entry.URL), zap.Int("requeues", n+1))
}

func parseContentType(raw string) (string, string) {
	if raw == "" {
		return "", "utf-8"
	}
	mediaType, params, err := mime.ParseMediaType(raw)
	if err != nil {
		mediaType, _, _ = strings.Cut(raw, ";")
		return strings.ToLower(strings.TrimSpace(mediaType)), "utf-8"
	}
	encoding := params["charset"]
	if encoding == "" {
		encoding = "utf-8"
	}
	return mediaType, encoding
}
