package crawler

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

var ipLiteral = regexp.MustCompile(`\A[\d.]*\z`)

// PolicyConfig describes the admission rules computed at engine construction.
type PolicyConfig struct {
	Roots        []string
	ExtraDomains []string
	Strict       bool
	Exclude      *regexp.Regexp
	AllowedPaths []*regexp.Regexp
}

// HostPolicy decides whether a URL may enter the frontier. It is immutable once
// built and safe for concurrent use.
type HostPolicy struct {
	rootDomains  map[string]struct{}
	strict       bool
	exclude      *regexp.Regexp
	allowedPaths []*regexp.Regexp
}

// NewHostPolicy derives the root-domain set from the configured roots.
func NewHostPolicy(cfg PolicyConfig) *HostPolicy {
	p := &HostPolicy{
		rootDomains:  make(map[string]struct{}),
		strict:       cfg.Strict,
		exclude:      cfg.Exclude,
		allowedPaths: append([]*regexp.Regexp(nil), cfg.AllowedPaths...),
	}
	for _, root := range cfg.Roots {
		u, err := url.Parse(root)
		if err != nil {
			continue
		}
		p.addHost(u.Hostname())
	}
	for _, host := range cfg.ExtraDomains {
		p.addHost(host)
	}
	return p
}

func (p *HostPolicy) addHost(host string) {
	if host == "" {
		return
	}
	if isIPLiteral(host) {
		p.rootDomains[host] = struct{}{}
		return
	}
	host = strings.ToLower(host)
	if p.strict {
		p.rootDomains[host] = struct{}{}
		return
	}
	p.rootDomains[lenientHost(host)] = struct{}{}
}

// RootDomains returns a copy of the computed root-domain set.
func (p *HostPolicy) RootDomains() []string {
	out := make([]string, 0, len(p.rootDomains))
	for d := range p.rootDomains {
		out = append(out, d)
	}
	return out
}

// HostAllowed reports whether host belongs to one of the root domains.
func (p *HostPolicy) HostAllowed(host string) bool {
	host = strings.ToLower(host)
	if _, ok := p.rootDomains[host]; ok {
		return true
	}
	if isIPLiteral(host) {
		return false
	}
	if p.strict {
		return p.strictishMatch(host)
	}
	_, ok := p.rootDomains[lenientHost(host)]
	return ok
}

// strictishMatch compares hosts modulo a leading "www.".
func (p *HostPolicy) strictishMatch(host string) bool {
	if rest, ok := strings.CutPrefix(host, "www."); ok {
		host = rest
	} else {
		host = "www." + host
	}
	_, ok := p.rootDomains[host]
	return ok
}

// PathAllowed is true when at least one allowed-path pattern matches. With no
// patterns configured nothing is allowed.
func (p *HostPolicy) PathAllowed(rawURL string) bool {
	for _, rule := range p.allowedPaths {
		if rule.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// URLAllowed composes the scheme, exclude, host and path checks.
func (p *HostPolicy) URLAllowed(rawURL string) bool {
	if p.exclude != nil && p.exclude.MatchString(rawURL) {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !p.HostAllowed(u.Hostname()) {
		return false
	}
	return p.PathAllowed(rawURL)
}

func isIPLiteral(host string) bool {
	return ipLiteral.MatchString(host) || net.ParseIP(host) != nil
}

// lenientHost collapses a host to its last two labels, e.g. www.example.com
// becomes examplecom.
func lenientHost(host string) string {
	parts := strings.Split(host, ".")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return strings.Join(parts, "")
}

// FixURL prefixes a schema-less seed with https://.
func FixURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		return "https://" + raw
	}
	return raw
}
