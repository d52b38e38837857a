package crawler

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
)

// DefaultUserAgent is used when no pool is supplied.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_12_2) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/55.0.2883.95 Safari/537.36"

const cookieAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// sessionCookieLength matches the 11-character bid cookie the target site issues.
const sessionCookieLength = 11

// UserAgentPool hands out a random User-Agent per request.
type UserAgentPool struct {
	agents []string
}

// NewUserAgentPool copies agents, falling back to DefaultUserAgent.
func NewUserAgentPool(agents []string) *UserAgentPool {
	cleaned := make([]string, 0, len(agents))
	for _, a := range agents {
		if a = strings.TrimSpace(a); a != "" {
			cleaned = append(cleaned, a)
		}
	}
	if len(cleaned) == 0 {
		cleaned = []string{DefaultUserAgent}
	}
	return &UserAgentPool{agents: cleaned}
}

// LoadUserAgents reads one agent per line, skipping blank lines.
func LoadUserAgents(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open user agents: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var agents []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			agents = append(agents, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read user agents: %w", err)
	}
	return agents, nil
}

// Pick returns one agent at random.
func (p *UserAgentPool) Pick() string {
	if len(p.agents) == 1 {
		return p.agents[0]
	}
	return p.agents[rand.IntN(len(p.agents))]
}

// Len returns the pool size.
func (p *UserAgentPool) Len() int {
	return len(p.agents)
}

// HeaderSource builds the per-request header set.
type HeaderSource struct {
	agents     *UserAgentPool
	overrides  http.Header
	cookieName string
}

// NewHeaderSource combines a User-Agent pool, static overrides and an optional
// session cookie name. The cookie value is regenerated on every request.
func NewHeaderSource(agents *UserAgentPool, overrides map[string]string, cookieName string) *HeaderSource {
	if agents == nil {
		agents = NewUserAgentPool(nil)
	}
	h := http.Header{}
	for k, v := range overrides {
		h.Set(k, v)
	}
	return &HeaderSource{agents: agents, overrides: h, cookieName: cookieName}
}

// Build returns a fresh header set, layering extra on top of the overrides.
func (s *HeaderSource) Build(extra http.Header) http.Header {
	h := http.Header{}
	h.Set("User-Agent", s.agents.Pick())
	for k, vs := range s.overrides {
		h[k] = append([]string(nil), vs...)
	}
	for k, vs := range extra {
		h[k] = append([]string(nil), vs...)
	}
	if s.cookieName != "" {
		h.Add("Cookie", s.cookieName+"="+SessionCookieValue())
	}
	return h
}

// SessionCookieValue samples distinct alphanumerics, like the site's own bid.
func SessionCookieValue() string {
	perm := rand.Perm(len(cookieAlphabet))
	var b strings.Builder
	b.Grow(sessionCookieLength)
	for _, i := range perm[:sessionCookieLength] {
		b.WriteByte(cookieAlphabet[i])
	}
	return b.String()
}
