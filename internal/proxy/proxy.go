// Package proxy provides the upstream proxy rotators used by the fetcher.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/spinbot/internal/crawler"
)

var (
	// ErrNoProxy means every known proxy is evicted or cooling down.
	ErrNoProxy = errors.New("no usable proxy")
	// ErrPoolUnavailable means the proxy pool service could not be reached.
	ErrPoolUnavailable = errors.New("proxy pool unavailable")
)

// Modes accepted by New.
const (
	ModeDirect  = "direct"
	ModePool    = "pool"
	ModeService = "service"
)

// Config selects and tunes a rotator.
type Config struct {
	Mode             string
	Addresses        []string
	Endpoint         string
	FailureThreshold int
	Cooldown         time.Duration
}

// Direct never uses a proxy.
type Direct struct{}

// Next always returns the empty address.
func (Direct) Next(_ context.Context) (string, error) { return "", nil }

// ReportFailure is a no-op.
func (Direct) ReportFailure(string) {}

// Evict is a no-op.
func (Direct) Evict(string) {}

// New builds the rotator named by cfg.Mode.
func New(cfg Config, client *http.Client, logger *zap.Logger) (crawler.ProxyRotator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Mode) {
	case "", ModeDirect:
		return Direct{}, nil
	case ModePool:
		if len(cfg.Addresses) == 0 {
			return nil, fmt.Errorf("proxy pool: %w", ErrNoProxy)
		}
		return NewPool(cfg.Addresses, cfg.FailureThreshold, cfg.Cooldown, logger), nil
	case ModeService:
		if cfg.Endpoint == "" {
			return nil, errors.New("proxy service: endpoint is required")
		}
		return NewService(cfg.Endpoint, client, cfg.FailureThreshold, logger), nil
	default:
		return nil, fmt.Errorf("unknown proxy mode %q", cfg.Mode)
	}
}
