package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/spinbot/internal/api"
	"github.com/JakeFAU/spinbot/internal/config"
	"github.com/JakeFAU/spinbot/internal/crawler"
	"github.com/JakeFAU/spinbot/internal/handlers"
	"github.com/JakeFAU/spinbot/internal/items"
	"github.com/JakeFAU/spinbot/internal/logging"
	"github.com/JakeFAU/spinbot/internal/metrics"
	"github.com/JakeFAU/spinbot/internal/proxy"
	"github.com/JakeFAU/spinbot/internal/ratelimit"
	"github.com/JakeFAU/spinbot/internal/storage/memory"
	"github.com/JakeFAU/spinbot/internal/storage/postgres"
)

// defaultVerbosity is the -v baseline; it maps to the info level.
const defaultVerbosity = 2

type crawlOptions struct {
	root        *rootOptions
	maxRedirect int
	maxTries    int
	maxTasks    int
	exclude     string
	strict      bool
	lenient     bool
	verbose     int
	quiet       bool
	profile     string
}

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd(root *rootOptions) *cobra.Command {
	opts := &crawlOptions{root: root}
	cmd := &cobra.Command{
		Use:   "crawl [roots...]",
		Short: "Crawl the given roots and print a fetch report",
		Long: `Crawls every root URL given on the command line or in crawler.roots. Links are
followed only inside the roots' domains and the configured path patterns.
Press Ctrl-C to stop early; the partial report is still printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, opts, args)
		},
	}

	opts.bindFlags(cmd)
	return cmd
}

func (opts *crawlOptions) bindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&opts.maxRedirect, "max-redirect", 10, "limit on redirects followed per chain")
	f.IntVar(&opts.maxTries, "max-tries", 4, "attempts per URL before giving up")
	f.IntVar(&opts.maxTasks, "max-tasks", 5, "number of concurrent workers")
	f.StringVar(&opts.exclude, "exclude", "", "regex of URLs to skip")
	f.BoolVar(&opts.strict, "strict", true, "strict host matching")
	f.BoolVar(&opts.lenient, "lenient", false, "lenient host matching (ignore subdomains)")
	f.CountVarP(&opts.verbose, "verbose", "v", "more log output (repeatable)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "only log errors")
	f.StringVar(&opts.profile, "profile", "", "crawl profile: generic, douban or couplet")
	cmd.MarkFlagsMutuallyExclusive("strict", "lenient")
	cmd.MarkFlagsMutuallyExclusive("verbose", "quiet")
}

// applyOverrides layers explicitly set flags and positional roots on top of cfg.
func applyOverrides(cmd *cobra.Command, opts *crawlOptions, cfg *config.Config, args []string) {
	flags := cmd.Flags()
	if flags.Changed("max-redirect") {
		cfg.Crawler.MaxRedirect = opts.maxRedirect
	}
	if flags.Changed("max-tries") {
		cfg.Crawler.MaxTries = opts.maxTries
	}
	if flags.Changed("max-tasks") {
		cfg.Crawler.MaxTasks = opts.maxTasks
	}
	if flags.Changed("exclude") {
		cfg.Crawler.Exclude = opts.exclude
	}
	if flags.Changed("strict") {
		cfg.Crawler.Strict = opts.strict
	}
	if flags.Changed("lenient") {
		cfg.Crawler.Strict = !opts.lenient
	}
	if flags.Changed("profile") {
		cfg.Crawler.Profile = opts.profile
	}
	switch {
	case flags.Changed("quiet"):
		cfg.Logging.Level = logging.LevelForVerbosity(0, opts.quiet)
	case flags.Changed("verbose"):
		cfg.Logging.Level = logging.LevelForVerbosity(defaultVerbosity+opts.verbose, false)
	}
	cfg.Crawler.Roots = append(cfg.Crawler.Roots, args...)
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions, args []string) error {
	cfg, err := config.Load(opts.root.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(cmd, opts, &cfg, args)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	runID := id.String()
	logger = logger.With(zap.String("run_id", runID))
	metrics.Init()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	profile, err := handlers.Build(cfg, store, logger)
	if err != nil {
		return err
	}
	if len(profile.Seeds) == 0 {
		return errors.New("no roots to crawl: pass URLs or set crawler.roots")
	}

	fetcher, rotator, err := buildFetcher(cfg, profile, logger)
	if err != nil {
		return err
	}
	defer fetcher.Close()

	engine, err := crawler.NewEngine(crawler.Config{
		RunID:         runID,
		Seeds:         profile.Seeds,
		MaxRedirect:   cfg.Crawler.MaxRedirect,
		MaxTasks:      cfg.Crawler.MaxTasks,
		ShutdownGrace: cfg.Crawler.ShutdownGrace(),
	}, fetcher, crawler.NewHostPolicy(profile.Policy), profile.Dispatch, rotator, logger)
	if err != nil {
		return err
	}

	logger.Info("crawl starting",
		zap.String("profile", profile.Name),
		zap.Int("seeds", len(profile.Seeds)),
		zap.Int("max_tasks", cfg.Crawler.MaxTasks),
		zap.String("proxy_mode", cfg.Proxy.Mode),
	)

	report, err := runEngine(ctx, engine, runID, cfg.Metrics.Addr, logger)
	if !report.Started.IsZero() {
		printReport(cmd.OutOrStdout(), report)
	}
	if err != nil {
		return err
	}
	logger.Info("crawl finished",
		zap.Int("fetches", len(report.Stats)),
		zap.Int("items", report.Items),
		zap.Bool("interrupted", report.Interrupted),
	)
	return nil
}

// runEngine runs the crawl and, when addr is set, the stats server alongside it.
// The server stops once the crawl returns.
func runEngine(ctx context.Context, engine *crawler.Engine, runID, addr string, logger *zap.Logger) (crawler.Report, error) {
	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	var report crawler.Report
	g.Go(func() error {
		defer stopServer()
		r, err := engine.Run(gctx)
		report = r
		if err != nil {
			return fmt.Errorf("run crawler: %w", err)
		}
		return nil
	})
	if addr != "" {
		srv := api.NewServer(runID, engine.Recorder(), engine.Frontier(), logger.Named("api"))
		g.Go(func() error {
			return srv.ListenAndServe(serverCtx, addr)
		})
	}

	err := g.Wait()
	return report, err
}

func openStore(ctx context.Context, cfg config.StorageConfig) (items.Store, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := postgres.NewItemStore(ctx, postgres.ItemStoreConfig{
			DSN:           cfg.DSN,
			MembersTable:  cfg.MembersTable,
			CoupletsTable: cfg.CoupletsTable,
			MaxConns:      int32(cfg.MaxConns), //nolint:gosec // validated small value
		})
		if err != nil {
			return nil, fmt.Errorf("open item store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("open item store: %w", err)
		}
		return store, nil
	default:
		return memory.NewItemStore(), nil
	}
}

// buildFetcher returns the rotator too so the dispatcher evicts from the same pool.
func buildFetcher(cfg config.Config, profile handlers.Profile, logger *zap.Logger) (*crawler.Fetcher, crawler.ProxyRotator, error) {
	rotator, err := proxy.New(proxy.Config{
		Mode:             cfg.Proxy.Mode,
		Addresses:        cfg.Proxy.Addresses,
		Endpoint:         cfg.Proxy.Endpoint,
		FailureThreshold: cfg.Proxy.FailureThreshold,
		Cooldown:         cfg.Proxy.Cooldown(),
	}, &http.Client{Timeout: cfg.Crawler.Timeout()}, logger.Named("proxy"))
	if err != nil {
		return nil, nil, fmt.Errorf("init proxy: %w", err)
	}

	agents := cfg.Crawler.UserAgents
	if cfg.Crawler.UserAgentsFile != "" {
		loaded, err := crawler.LoadUserAgents(cfg.Crawler.UserAgentsFile)
		if err != nil {
			return nil, nil, err
		}
		agents = append(agents, loaded...)
	}
	headers := crawler.NewHeaderSource(crawler.NewUserAgentPool(agents), cfg.Crawler.Headers, profile.SessionCookie)

	var limiter crawler.HostLimiter
	if cfg.Crawler.RateLimitPerHost > 0 {
		limiter = ratelimit.New(ratelimit.Config{RPS: cfg.Crawler.RateLimitPerHost, Burst: 1})
	}

	fetcher := crawler.NewFetcher(crawler.FetcherConfig{
		MaxTries:        cfg.Crawler.MaxTries,
		Timeout:         cfg.Crawler.Timeout(),
		MaxBodyBytes:    cfg.Crawler.MaxBodyBytes,
		MaxConnsPerHost: cfg.Crawler.MaxTasks,
	}, rotator, headers, limiter, logger.Named("fetch"))
	return fetcher, rotator, nil
}
