// Package api hosts the optional HTTP surface of a running crawl:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats for a live JSON summary of the fetch statistics.
package api
