package crawler

import (
	"maps"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Reserved metadata keys.
const (
	MetaProxy    = "proxy"
	MetaBlocked  = "blocked"
	MetaRequeues = "requeues"
)

// Metadata travels with a frontier entry from fetch to item handler.
type Metadata map[string]string

// Proxy returns the proxy address used for the most recent attempt, if any.
func (m Metadata) Proxy() string {
	return m[MetaProxy]
}

// MarkBlocked signals that the fetched page looked like a proxy-side block. The
// dispatcher evicts the proxy and requeues the URL.
func (m Metadata) MarkBlocked() {
	m[MetaBlocked] = "1"
}

// Blocked reports whether a handler marked the page as blocked.
func (m Metadata) Blocked() bool {
	return m[MetaBlocked] != ""
}

// Requeues returns how many times the entry has been put back on the frontier.
func (m Metadata) Requeues() int {
	n, err := strconv.Atoi(m[MetaRequeues])
	if err != nil {
		return 0
	}
	return n
}

// Clone copies the metadata without the attempt-scoped keys.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	maps.Copy(out, m)
	delete(out, MetaProxy)
	delete(out, MetaBlocked)
	return out
}

// Entry is a unit of work on the frontier.
type Entry struct {
	URL            string
	RedirectBudget int
	Meta           Metadata
}

// Response is the raw result of one successful round trip.
type Response struct {
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
	Proxy      string
	Attempts   int
	Duration   time.Duration
}

// FetchStatistic is recorded once per terminal fetch outcome.
type FetchStatistic struct {
	URL         string
	NextURL     string
	Status      int
	Err         error
	Size        int
	ContentType string
	Encoding    string
	NumURLs     int
	NumNewURLs  int
	Attempts    int
	Proxy       string
	Handler     string
	Duration    time.Duration
}

// Outcome buckets a statistic for reporting.
func (s FetchStatistic) Outcome() string {
	switch {
	case s.Err != nil && s.Status == 0:
		return "failed"
	case s.NextURL != "":
		return "redirect"
	case s.Status == http.StatusOK:
		return "ok"
	default:
		return "status_" + strconv.Itoa(s.Status)
	}
}

// ItemSet tracks distinct items discovered by handlers during a run.
type ItemSet struct {
	mu    sync.Mutex
	items map[string]struct{}
}

// NewItemSet returns an empty set.
func NewItemSet() *ItemSet {
	return &ItemSet{items: make(map[string]struct{})}
}

// Add stores key and reports whether it was new.
func (s *ItemSet) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = struct{}{}
	return true
}

// Len returns the number of distinct items.
func (s *ItemSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Report is handed back to the caller when a crawl finishes.
type Report struct {
	RunID       string
	Stats       []FetchStatistic
	Items       int
	Started     time.Time
	Finished    time.Time
	Interrupted bool
}

// Elapsed returns the wall time of the run.
func (r Report) Elapsed() time.Duration {
	return r.Finished.Sub(r.Started)
}
