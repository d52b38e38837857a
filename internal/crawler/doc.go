// Package crawler implements the crawl engine: the host/path admission policy,
// the deduplicating frontier, the colly-backed fetch pipeline with per-attempt
// proxies, link extraction with handler dispatch, and the bounded worker pool
// that ties them together.
package crawler
