// Package douban extracts group members from douban group member listings.
package douban

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/spinbot/internal/crawler"
	"github.com/JakeFAU/spinbot/internal/items"
	"github.com/JakeFAU/spinbot/internal/metrics"
)

// Profile constants.
const (
	RouteName    = "group"
	RoutePattern = `/group/\w+/members`
	Exclude      = `(sec.douban.com|accounts/connect/sina_weibo/)`
	ExtraDomain  = "www.douban.com"
	CookieName   = "bid"

	groupBaseURL = "https://www.douban.com/group/%s/members"
)

// AllowedPaths restricts the crawl to member listings and group home pages.
var AllowedPaths = []string{`/group/\w+/members`, `/group/\w+/$`}

// Handler parses `.nbg` member links. A listing without members is treated as
// a block page served through the proxy.
type Handler struct {
	store  items.Store
	logger *zap.Logger
}

// New creates a Handler that upserts members into store.
func New(store items.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// HandleItem extracts every member on the page.
func (h *Handler) HandleItem(ctx context.Context, page *crawler.Page, meta crawler.Metadata, set *crawler.ItemSet) error {
	doc, err := page.Document()
	if err != nil {
		return fmt.Errorf("group page: %w", err)
	}
	nodes := doc.Find(".nbg")
	if nodes.Length() == 0 {
		h.logger.Error("no members on group page",
			zap.String("url", page.FinalURL),
			zap.String("proxy", meta.Proxy()),
			zap.Int("bytes", len(page.Body)),
		)
		meta.MarkBlocked()
		return nil
	}

	var errs []error
	nodes.Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" {
			return
		}
		m := items.Member{HomeURL: href, Name: s.Find("img").First().AttrOr("alt", "")}
		if set.Add(m.Key()) {
			metrics.ObserveItem(RouteName)
		}
		if h.store == nil {
			return
		}
		if err := h.store.UpsertMember(ctx, m); err != nil {
			errs = append(errs, err)
		}
	})
	h.logger.Info("parsed group members",
		zap.String("url", page.FinalURL),
		zap.Int("on_page", nodes.Length()),
		zap.Int("distinct_items", set.Len()),
	)
	return errors.Join(errs...)
}

// Headers pins the Host header the site expects.
func (h *Handler) Headers() http.Header {
	hdr := http.Header{}
	hdr.Set("Host", ExtraDomain)
	return hdr
}

// Seeds builds member-listing URLs for the given group IDs and the half-open
// numeric range [start, end).
func Seeds(groupIDs []string, start, end int) []string {
	seeds := make([]string, 0, len(groupIDs)+max(end-start, 0))
	for _, id := range groupIDs {
		if id = strings.TrimSpace(id); id != "" {
			seeds = append(seeds, fmt.Sprintf(groupBaseURL, id))
		}
	}
	for id := start; id < end; id++ {
		seeds = append(seeds, fmt.Sprintf(groupBaseURL, strconv.Itoa(id)))
	}
	return seeds
}
