package proxy

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type proxyState struct {
	failures  int
	coolUntil time.Time
	evicted   bool
}

// Pool rotates round-robin over a fixed list of proxies. A proxy that keeps
// failing is benched for the cooldown; an evicted proxy is gone for the run.
type Pool struct {
	mu        sync.Mutex
	addrs     []string
	state     map[string]*proxyState
	next      int
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewPool copies addrs, dropping blanks and duplicates.
func NewPool(addrs []string, threshold int, cooldown time.Duration, logger *zap.Logger) *Pool {
	if threshold <= 0 {
		threshold = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		state:     make(map[string]*proxyState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		logger:    logger,
	}
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, dup := p.state[a]; dup {
			continue
		}
		p.addrs = append(p.addrs, a)
		p.state[a] = &proxyState{}
	}
	return p
}

// Next returns the next usable proxy, or ErrNoProxy.
func (p *Pool) Next(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for i := 0; i < len(p.addrs); i++ {
		idx := (p.next + i) % len(p.addrs)
		addr := p.addrs[idx]
		st := p.state[addr]
		if st.evicted {
			continue
		}
		if !st.coolUntil.IsZero() {
			if now.Before(st.coolUntil) {
				continue
			}
			st.coolUntil = time.Time{}
		}
		p.next = idx + 1
		return addr, nil
	}
	return "", ErrNoProxy
}

// ReportFailure counts a failed attempt through addr.
func (p *Pool) ReportFailure(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.state[addr]
	if !ok || st.evicted {
		return
	}
	st.failures++
	if st.failures >= p.threshold {
		st.failures = 0
		st.coolUntil = p.now().Add(p.cooldown)
		p.logger.Info("proxy cooling down", zap.String("proxy", addr), zap.Duration("cooldown", p.cooldown))
	}
}

// Evict removes addr for the rest of the run.
func (p *Pool) Evict(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.state[addr]; ok && !st.evicted {
		st.evicted = true
		p.logger.Info("proxy evicted", zap.String("proxy", addr))
	}
}

// Available counts proxies that are neither evicted nor cooling down.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	n := 0
	for _, st := range p.state {
		if !st.evicted && !now.Before(st.coolUntil) {
			n++
		}
	}
	return n
}
