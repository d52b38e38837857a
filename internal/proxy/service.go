package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const serviceTimeout = 5 * time.Second

// Service draws proxies from an external proxy-pool HTTP service that serves
// GET /get/ and GET /delete/?proxy=host:port.
type Service struct {
	endpoint  string
	client    *http.Client
	threshold int
	logger    *zap.Logger

	mu       sync.Mutex
	failures map[string]int
}

// NewService talks to the pool at endpoint.
func NewService(endpoint string, client *http.Client, threshold int, logger *zap.Logger) *Service {
	if client == nil {
		client = &http.Client{Timeout: serviceTimeout}
	}
	if threshold <= 0 {
		threshold = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		endpoint:  strings.TrimRight(endpoint, "/"),
		client:    client,
		threshold: threshold,
		logger:    logger,
		failures:  make(map[string]int),
	}
}

// Next asks the service for a proxy.
func (s *Service) Next(ctx context.Context) (string, error) {
	body, err := s.get(ctx, s.endpoint+"/get/")
	if err != nil {
		return "", err
	}
	addr := parseGetBody(body)
	if addr == "" {
		return "", ErrNoProxy
	}
	return addr, nil
}

// ReportFailure counts a failure and deletes the proxy from the service once
// the threshold is reached.
func (s *Service) ReportFailure(addr string) {
	s.mu.Lock()
	s.failures[addr]++
	hit := s.failures[addr] >= s.threshold
	if hit {
		delete(s.failures, addr)
	}
	s.mu.Unlock()
	if hit {
		s.remove(addr)
	}
}

// Evict deletes addr from the service immediately.
func (s *Service) Evict(addr string) {
	s.mu.Lock()
	delete(s.failures, addr)
	s.mu.Unlock()
	s.remove(addr)
}

func (s *Service) remove(addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), serviceTimeout)
	defer cancel()
	target := s.endpoint + "/delete/?proxy=" + url.QueryEscape(addr)
	if _, err := s.get(ctx, target); err != nil {
		s.logger.Warn("delete proxy failed", zap.String("proxy", addr), zap.Error(err))
		return
	}
	s.logger.Info("proxy deleted from pool", zap.String("proxy", addr))
}

func (s *Service) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build pool request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPoolUnavailable, err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully read below
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrPoolUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrPoolUnavailable, resp.StatusCode)
	}
	return body, nil
}

// parseGetBody accepts both the plain "host:port" reply and the JSON object
// newer pool versions return.
func parseGetBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return trimmed
	}
	var reply struct {
		Proxy string `json:"proxy"`
	}
	if err := json.Unmarshal([]byte(trimmed), &reply); err != nil {
		return ""
	}
	return strings.TrimSpace(reply.Proxy)
}
