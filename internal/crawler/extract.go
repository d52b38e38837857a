package crawler

import (
	"html"
	"net/url"
	"regexp"
	"sort"
)

// Replace href with (?:href|src) to follow image links.
var hrefPattern = regexp.MustCompile(`(?i)href=["']([^\s"'<>]+)`)

// ExtractLinks scans markup for href attributes and returns every distinct
// absolute, fragment-free URL resolved against base.
func ExtractLinks(base string, body []byte) []string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, m := range hrefPattern.FindAllSubmatch(body, -1) {
		ref, err := url.Parse(html.UnescapeString(string(m[1])))
		if err != nil {
			continue
		}
		abs := baseURL.ResolveReference(ref)
		abs.Fragment = ""
		abs.RawFragment = ""
		seen[abs.String()] = struct{}{}
	}
	links := make([]string, 0, len(seen))
	for link := range seen {
		links = append(links, link)
	}
	sort.Strings(links)
	return links
}

// resolveLocation turns a Location header into an absolute URL.
func resolveLocation(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}

// isRedirect covers the statuses the engine resolves itself.
func isRedirect(status int) bool {
	switch status {
	case 300, 301, 302, 303, 307:
		return true
	}
	return false
}
