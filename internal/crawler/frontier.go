package crawler

import (
	"context"
	"fmt"
	"sync"
)

// Frontier is a deduplicating FIFO work queue. Producers never block; consumers
// block in Next until work arrives or their context ends.
type Frontier struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	queue   []Entry
	pending int
	ready   chan struct{}
	drained []chan struct{}
}

// NewFrontier returns an empty frontier.
func NewFrontier() *Frontier {
	return &Frontier{
		seen:  make(map[string]struct{}),
		ready: make(chan struct{}),
	}
}

// Enqueue admits url unless it has been seen before. The seen check and the push
// happen under one lock so concurrent producers cannot double-admit a URL.
func (f *Frontier) Enqueue(url string, redirectBudget int, meta Metadata) bool {
	if meta == nil {
		meta = Metadata{}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.seen[url]; ok {
		return false
	}
	f.seen[url] = struct{}{}
	f.pushLocked(Entry{URL: url, RedirectBudget: redirectBudget, Meta: meta})
	return true
}

// Requeue pushes an entry that was already admitted, bypassing deduplication.
func (f *Frontier) Requeue(entry Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[entry.URL] = struct{}{}
	f.pushLocked(entry)
}

func (f *Frontier) pushLocked(entry Entry) {
	f.queue = append(f.queue, entry)
	f.pending++
	close(f.ready)
	f.ready = make(chan struct{})
}

// Next pops the oldest entry, waiting while the queue is empty.
func (f *Frontier) Next(ctx context.Context) (Entry, error) {
	for {
		f.mu.Lock()
		if len(f.queue) > 0 {
			entry := f.queue[0]
			f.queue[0] = Entry{}
			f.queue = f.queue[1:]
			f.mu.Unlock()
			return entry, nil
		}
		ready := f.ready
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return Entry{}, fmt.Errorf("frontier next: %w", ctx.Err())
		case <-ready:
		}
	}
}

// Done marks one entry returned by Next as finished.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == 0 {
		return
	}
	f.pending--
	if f.pending == 0 {
		for _, ch := range f.drained {
			close(ch)
		}
		f.drained = nil
	}
}

// Wait blocks until every admitted entry has been marked done.
func (f *Frontier) Wait(ctx context.Context) error {
	f.mu.Lock()
	if f.pending == 0 {
		f.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	f.drained = append(f.drained, ch)
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("frontier wait: %w", ctx.Err())
	case <-ch:
		return nil
	}
}

// Seen reports whether url has ever been admitted.
func (f *Frontier) Seen(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.seen[url]
	return ok
}

// Len is the number of entries waiting to be pulled.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Pending counts queued plus in-flight entries.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// SeenCount is the size of the seen set.
func (f *Frontier) SeenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}
