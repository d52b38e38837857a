package crawler

import (
	"sync"

	"github.com/JakeFAU/spinbot/internal/metrics"
)

// Recorder is the append-only log of fetch outcomes for one run.
type Recorder struct {
	mu    sync.Mutex
	stats []FetchStatistic
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record appends a statistic and mirrors it into Prometheus.
func (r *Recorder) Record(stat FetchStatistic) {
	r.mu.Lock()
	r.stats = append(r.stats, stat)
	r.mu.Unlock()
	metrics.ObserveFetch(stat.URL, stat.Outcome(), stat.Size)
}

// Snapshot returns a copy of the records in recording order.
func (r *Recorder) Snapshot() []FetchStatistic {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FetchStatistic(nil), r.stats...)
}

// Len returns the number of records.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stats)
}

// Summary aggregates the records seen so far.
type Summary struct {
	Total    int            `json:"total"`
	Bytes    int64          `json:"bytes"`
	Links    int            `json:"links"`
	NewLinks int            `json:"new_links"`
	Outcomes map[string]int `json:"outcomes"`
}

// Summary counts records by outcome.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := Summary{Outcomes: make(map[string]int)}
	for _, s := range r.stats {
		sum.Total++
		sum.Bytes += int64(s.Size)
		sum.Links += s.NumURLs
		sum.NewLinks += s.NumNewURLs
		sum.Outcomes[s.Outcome()]++
	}
	return sum
}
