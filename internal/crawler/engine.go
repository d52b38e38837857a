package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/spinbot/internal/metrics"
)

// PageFetcher performs one logical fetch, retries included.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string, meta Metadata, extra http.Header) (Response, error)
}

// Config bounds a single crawl run.
type Config struct {
	RunID         string
	Seeds         []string
	MaxRedirect   int
	MaxTasks      int
	ShutdownGrace time.Duration
}

// Engine owns the frontier, the worker pool and the statistics of one run.
type Engine struct {
	cfg        Config
	fetcher    PageFetcher
	policy     *HostPolicy
	frontier   *Frontier
	dispatcher *Dispatcher
	recorder   *Recorder
	items      *ItemSet
	logger     *zap.Logger
}

// NewEngine wires a run. It fails before any fetch when the route table
// references a handler that is not registered.
func NewEngine(
	cfg Config,
	fetcher PageFetcher,
	policy *HostPolicy,
	dispatch DispatcherConfig,
	rotator ProxyRotator,
	logger *zap.Logger,
) (*Engine, error) {
	if fetcher == nil {
		return nil, errors.New("new engine: fetcher is required")
	}
	if policy == nil {
		return nil, errors.New("new engine: host policy is required")
	}
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = 1
	}
	if cfg.MaxRedirect < 0 {
		cfg.MaxRedirect = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RunID != "" {
		logger = logger.With(zap.String("run_id", cfg.RunID))
	}
	dispatch.DefaultRedirectBudget = cfg.MaxRedirect

	frontier := NewFrontier()
	items := NewItemSet()
	dispatcher, err := NewDispatcher(dispatch, frontier, policy, rotator, items, logger)
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	return &Engine{
		cfg:        cfg,
		fetcher:    fetcher,
		policy:     policy,
		frontier:   frontier,
		dispatcher: dispatcher,
		recorder:   NewRecorder(),
		items:      items,
		logger:     logger,
	}, nil
}

// Recorder exposes live statistics, e.g. to the stats endpoint.
func (e *Engine) Recorder() *Recorder {
	return e.recorder
}

// Frontier exposes the run's work queue.
func (e *Engine) Frontier() *Frontier {
	return e.frontier
}

// Run crawls from the seeds until the frontier drains or ctx is cancelled. An
// interrupted run still returns the statistics gathered so far.
func (e *Engine) Run(ctx context.Context) (Report, error) {
	started := time.Now()
	for _, seed := range e.cfg.Seeds {
		e.frontier.Enqueue(FixURL(seed), e.cfg.MaxRedirect, Metadata{})
	}
	metrics.SetFrontierPending(e.frontier.Pending())
	e.logger.Info("crawl started",
		zap.Int("seeds", len(e.cfg.Seeds)),
		zap.Strings("root_domains", e.policy.RootDomains()),
		zap.Int("workers", e.cfg.MaxTasks),
	)

	// pullCtx stops workers from taking new entries; workCtx bounds in-flight work.
	pullCtx, stopPulling := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPulling()
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.MaxTasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.work(pullCtx, workCtx)
		}()
	}

	interrupted := e.frontier.Wait(ctx) != nil
	stopPulling()

	if interrupted {
		e.logger.Warn("crawl interrupted", zap.Duration("grace", e.cfg.ShutdownGrace))
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		timer := time.NewTimer(e.cfg.ShutdownGrace)
		select {
		case <-done:
			timer.Stop()
		case <-timer.C:
			stopWork()
			<-done
		}
	} else {
		wg.Wait()
	}

	report := Report{
		RunID:       e.cfg.RunID,
		Stats:       e.recorder.Snapshot(),
		Items:       e.items.Len(),
		Started:     started,
		Finished:    time.Now(),
		Interrupted: interrupted,
	}
	e.logger.Info("crawl finished",
		zap.Int("fetches", len(report.Stats)),
		zap.Int("items", report.Items),
		zap.Duration("elapsed", report.Elapsed()),
		zap.Bool("interrupted", interrupted),
	)
	return report, nil
}

func (e *Engine) work(pullCtx, workCtx context.Context) {
	for {
		entry, err := e.frontier.Next(pullCtx)
		if err != nil {
			return
		}
		metrics.IncActiveWorkers()
		e.process(workCtx, entry)
		metrics.DecActiveWorkers()
		e.frontier.Done()
		metrics.SetFrontierPending(e.frontier.Pending())
	}
}

func (e *Engine) process(ctx context.Context, entry Entry) {
	if entry.Meta == nil {
		entry.Meta = Metadata{}
	}
	resp, err := e.fetcher.Fetch(ctx, entry.URL, entry.Meta, e.dispatcher.HeadersFor(entry.URL))
	if err != nil {
		stat := FetchStatistic{URL: entry.URL, Err: err, Proxy: entry.Meta.Proxy()}
		var fe *FetchError
		if errors.As(err, &fe) {
			stat.Attempts = fe.Attempts
		}
		e.recorder.Record(stat)
		return
	}

	if isRedirect(resp.StatusCode) {
		if location := resp.Header.Get("Location"); location != "" {
			e.recorder.Record(e.followRedirect(entry, resp, location))
			return
		}
	}

	stat, _ := e.dispatcher.Process(ctx, entry, resp)
	e.recorder.Record(stat)
}

func (e *Engine) followRedirect(entry Entry, resp Response, location string) FetchStatistic {
	stat := FetchStatistic{
		URL:      entry.URL,
		Status:   resp.StatusCode,
		Size:     len(resp.Body),
		Attempts: resp.Attempts,
		Proxy:    resp.Proxy,
		Duration: resp.Duration,
	}
	next, err := resolveLocation(entry.URL, location)
	if err != nil {
		stat.Err = fmt.Errorf("resolve redirect: %w", err)
		return stat
	}
	stat.NextURL = next

	switch {
	case e.frontier.Seen(next):
		e.logger.Debug("redirect target already seen", zap.String("url", entry.URL), zap.String("next", next))
	case entry.RedirectBudget <= 0:
		stat.Err = ErrRedirectChainExhausted
		e.logger.Error("redirect limit reached",
			zap.String("url", entry.URL),
			zap.String("next", next),
			zap.Error(ErrRedirectChainExhausted),
		)
	case !e.policy.URLAllowed(next):
		e.logger.Debug("redirect target not allowed", zap.String("next", next))
	default:
		e.frontier.Enqueue(next, entry.RedirectBudget-1, entry.Meta.Clone())
	}
	return stat
}
