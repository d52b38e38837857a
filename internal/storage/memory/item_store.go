// Package memory keeps extracted items in-process for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/spinbot/internal/items"
)

// ItemStore is an in-memory items.Store.
type ItemStore struct {
	mu       sync.RWMutex
	members  map[string]items.Member
	couplets map[string]items.Couplet
}

// NewItemStore constructs an empty ItemStore.
func NewItemStore() *ItemStore {
	return &ItemStore{
		members:  make(map[string]items.Member),
		couplets: make(map[string]items.Couplet),
	}
}

// UpsertMember stores m, replacing the name of an existing member.
func (s *ItemStore) UpsertMember(_ context.Context, m items.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.HomeURL] = m
	return nil
}

// SaveCouplet stores c once; repeats are ignored.
func (s *ItemStore) SaveCouplet(_ context.Context, c items.Couplet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.couplets[c.Key()]; !ok {
		s.couplets[c.Key()] = c
	}
	return nil
}

// Members returns the stored members ordered by home URL.
func (s *ItemStore) Members() []items.Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]items.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HomeURL < out[j].HomeURL })
	return out
}

// Couplets returns the stored couplets ordered by first line.
func (s *ItemStore) Couplets() []items.Couplet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]items.Couplet, 0, len(s.couplets))
	for _, c := range s.couplets {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Close is a no-op.
func (s *ItemStore) Close() {}
