// Package handlers assembles crawl profiles: seeds, admission rules, item
// routes and the handlers behind them.
package handlers

import (
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/JakeFAU/spinbot/internal/config"
	"github.com/JakeFAU/spinbot/internal/crawler"
	"github.com/JakeFAU/spinbot/internal/handlers/couplet"
	"github.com/JakeFAU/spinbot/internal/handlers/douban"
	"github.com/JakeFAU/spinbot/internal/items"
)

var matchAll = regexp.MustCompile(`.*`)

// Profile is everything the engine needs beyond the numeric limits.
type Profile struct {
	Name          string
	Seeds         []string
	Policy        crawler.PolicyConfig
	Dispatch      crawler.DispatcherConfig
	SessionCookie string
}

// Registry returns every item handler by route name.
func Registry(store items.Store, logger *zap.Logger) map[string]crawler.ItemHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return map[string]crawler.ItemHandler{
		douban.RouteName:  douban.New(store, logger.Named(douban.RouteName)),
		couplet.RouteName: couplet.New(store, logger.Named(couplet.RouteName)),
	}
}

// Build resolves cfg into a Profile. Configured exclude and allowed-path
// patterns replace the profile's own; configured item routes are added after
// the profile's routes.
func Build(cfg config.Config, store items.Store, logger *zap.Logger) (Profile, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	patterns, err := cfg.Compile()
	if err != nil {
		return Profile{}, fmt.Errorf("build profile: %w", err)
	}

	p := Profile{
		Name:          cfg.Crawler.Profile,
		Seeds:         append([]string(nil), cfg.Crawler.Roots...),
		SessionCookie: cfg.Crawler.SessionCookie,
	}
	var (
		defaultPaths   []*regexp.Regexp
		defaultExclude *regexp.Regexp
		routes         []crawler.Route
	)

	switch cfg.Crawler.Profile {
	case "", "generic":
		defaultPaths = []*regexp.Regexp{matchAll}
	case "douban":
		p.Seeds = append(p.Seeds, douban.Seeds(cfg.Douban.GroupIDs, cfg.Douban.GroupRangeStart, cfg.Douban.GroupRangeEnd)...)
		p.Policy.ExtraDomains = []string{douban.ExtraDomain}
		defaultPaths = compileAll(douban.AllowedPaths)
		defaultExclude = regexp.MustCompile(douban.Exclude)
		routes = append(routes, crawler.Route{Name: douban.RouteName, Pattern: regexp.MustCompile(douban.RoutePattern)})
		if p.SessionCookie == "" {
			p.SessionCookie = douban.CookieName
		}
	case "couplet":
		if len(p.Seeds) == 0 {
			p.Seeds = []string{couplet.DefaultSeed}
		}
		defaultPaths = []*regexp.Regexp{regexp.MustCompile(couplet.AllowedPath)}
		defaultExclude = regexp.MustCompile(couplet.Exclude)
		routes = append(routes, crawler.Route{Name: couplet.RouteName, Pattern: regexp.MustCompile(couplet.RoutePattern)})
	default:
		return Profile{}, fmt.Errorf("build profile: unknown profile %q", cfg.Crawler.Profile)
	}

	for i, s := range p.Seeds {
		p.Seeds[i] = crawler.FixURL(s)
	}

	p.Policy.Roots = p.Seeds
	p.Policy.Strict = cfg.Crawler.Strict
	p.Policy.AllowedPaths = defaultPaths
	if len(patterns.AllowedPaths) > 0 {
		p.Policy.AllowedPaths = patterns.AllowedPaths
	}
	p.Policy.Exclude = defaultExclude
	if patterns.Exclude != nil {
		p.Policy.Exclude = patterns.Exclude
	}

	p.Dispatch = crawler.DispatcherConfig{
		Routes:              append(routes, patterns.Routes...),
		Handlers:            Registry(store, logger),
		AllowedContentTypes: cfg.Crawler.AllowedContentTypes,
		MaxRequeues:         cfg.Crawler.MaxRequeues,
	}
	return p, nil
}

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}
