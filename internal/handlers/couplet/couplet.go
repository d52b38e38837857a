// Package couplet extracts couplets from duiduilian article pages.
package couplet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/spinbot/internal/crawler"
	"github.com/JakeFAU/spinbot/internal/items"
	"github.com/JakeFAU/spinbot/internal/metrics"
)

// Profile constants. Section indexes are excluded rather than matched with a
// negative lookahead, which RE2 does not support.
const (
	RouteName    = "couplet"
	RoutePattern = `^http://www\.duiduilian\.com/.+/\w+\.html`
	AllowedPath  = `^http://www\.duiduilian\.com/.*/`
	Exclude      = `^http://www\.duiduilian\.com/(zhishi|zixun|jiqiao|qita|guestbook)`
	DefaultSeed  = "http://www.duiduilian.com/"
)

// Handler parses `.content_zw > p` paragraphs into couplets.
type Handler struct {
	store  items.Store
	logger *zap.Logger
}

// New creates a Handler that saves couplets into store.
func New(store items.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// HandleItem saves every couplet found on the page.
func (h *Handler) HandleItem(ctx context.Context, page *crawler.Page, _ crawler.Metadata, set *crawler.ItemSet) error {
	doc, err := page.Document()
	if err != nil {
		return fmt.Errorf("couplet page: %w", err)
	}
	var errs []error
	found := 0
	doc.Find(".content_zw > p").Each(func(_ int, s *goquery.Selection) {
		c, ok := parseParagraph(s)
		if !ok {
			h.logger.Debug("parse couplet failed", zap.String("url", page.FinalURL), zap.String("text", s.Text()))
			return
		}
		c.SourceURL = page.FinalURL
		found++
		if set.Add(c.Key()) {
			metrics.ObserveItem(RouteName)
		}
		if h.store == nil {
			return
		}
		if err := h.store.SaveCouplet(ctx, c); err != nil {
			errs = append(errs, err)
		}
	})
	h.logger.Info("parsed couplets", zap.String("url", page.FinalURL), zap.Int("on_page", found))
	return errors.Join(errs...)
}

// parseParagraph reads a pair of <font> tags, or else the first two lines of
// text. Anything after the first space on the second line is an annotation.
func parseParagraph(s *goquery.Selection) (items.Couplet, bool) {
	if fonts := s.Find("font"); fonts.Length() >= 2 {
		first := strings.TrimSpace(fonts.Eq(0).Text())
		second := strings.TrimSpace(fonts.Eq(1).Text())
		return items.Couplet{First: first, Second: second}, first != "" && second != ""
	}
	lines := strings.Split(s.Text(), "\n")
	if len(lines) < 2 {
		return items.Couplet{}, false
	}
	first := strings.TrimSpace(lines[0])
	second, _, _ := strings.Cut(strings.TrimSpace(lines[1]), " ")
	return items.Couplet{First: first, Second: second}, first != "" && second != ""
}
