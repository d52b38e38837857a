// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/spinbot/internal/crawler"
)

// Config captures every knob of a crawl run.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Douban  DoubanConfig  `mapstructure:"douban"`
	Proxy   ProxyConfig   `mapstructure:"proxy"`
	Storage StorageConfig `mapstructure:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig governs the engine, the fetch pipeline and admission.
type CrawlerConfig struct {
	Roots                []string          `mapstructure:"roots"`
	Profile              string            `mapstructure:"profile"`
	MaxRedirect          int               `mapstructure:"max_redirect"`
	MaxTries             int               `mapstructure:"max_tries"`
	MaxTasks             int               `mapstructure:"max_tasks"`
	MaxRequeues          int               `mapstructure:"max_requeues"`
	Strict               bool              `mapstructure:"strict"`
	Exclude              string            `mapstructure:"exclude"`
	AllowedPaths         []string          `mapstructure:"allowed_paths"`
	ItemRoutes           []RouteConfig     `mapstructure:"item_routes"`
	TimeoutSeconds       int               `mapstructure:"timeout_seconds"`
	UserAgents           []string          `mapstructure:"user_agents"`
	UserAgentsFile       string            `mapstructure:"user_agents_file"`
	Headers              map[string]string `mapstructure:"headers"`
	SessionCookie        string            `mapstructure:"session_cookie"`
	RateLimitPerHost     float64           `mapstructure:"rate_limit_per_host"`
	MaxBodyBytes         int               `mapstructure:"max_body_bytes"`
	AllowedContentTypes  []string          `mapstructure:"allowed_content_types"`
	ShutdownGraceSeconds int               `mapstructure:"shutdown_grace_seconds"`
}

// RouteConfig binds a URL pattern to a registered item handler.
type RouteConfig struct {
	Name    string `mapstructure:"name"`
	Pattern string `mapstructure:"pattern"`
}

// DoubanConfig drives seed generation for the group-member profile.
type DoubanConfig struct {
	GroupIDs        []string `mapstructure:"group_ids"`
	GroupRangeStart int      `mapstructure:"group_range_start"`
	GroupRangeEnd   int      `mapstructure:"group_range_end"`
}

// ProxyConfig selects the upstream proxy rotator.
type ProxyConfig struct {
	Mode             string   `mapstructure:"mode"`
	Addresses        []string `mapstructure:"addresses"`
	Endpoint         string   `mapstructure:"endpoint"`
	FailureThreshold int      `mapstructure:"failure_threshold"`
	CooldownSeconds  int      `mapstructure:"cooldown_seconds"`
}

// StorageConfig controls where extracted items go.
type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	MembersTable  string `mapstructure:"members_table"`
	CoupletsTable string `mapstructure:"couplets_table"`
	MaxConns      int    `mapstructure:"max_conns"`
}

// MetricsConfig enables the HTTP surface when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Patterns holds the compiled forms of the configured regexes.
type Patterns struct {
	Exclude      *regexp.Regexp
	AllowedPaths []*regexp.Regexp
	Routes       []crawler.Route
}

var (
	profiles      = []string{"generic", "douban", "couplet"}
	proxyModes    = []string{"direct", "pool", "service"}
	storageDriver = []string{"memory", "postgres"}
	identPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPINBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.roots", []string{})
	v.SetDefault("crawler.profile", "generic")
	v.SetDefault("crawler.max_redirect", 10)
	v.SetDefault("crawler.max_tries", 4)
	v.SetDefault("crawler.max_tasks", 5)
	v.SetDefault("crawler.max_requeues", 3)
	v.SetDefault("crawler.strict", true)
	v.SetDefault("crawler.exclude", "")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.session_cookie", "")
	v.SetDefault("crawler.rate_limit_per_host", 0)
	v.SetDefault("crawler.max_body_bytes", 10*1024*1024)
	v.SetDefault("crawler.allowed_content_types", crawler.DefaultContentTypes)
	v.SetDefault("crawler.shutdown_grace_seconds", 15)
	v.SetDefault("crawler.allowed_paths", []string{})
	v.SetDefault("crawler.user_agents", []string{})
	v.SetDefault("crawler.user_agents_file", "")
	v.SetDefault("douban.group_ids", []string{})
	v.SetDefault("douban.group_range_start", 0)
	v.SetDefault("douban.group_range_end", 0)
	v.SetDefault("proxy.mode", "direct")
	v.SetDefault("proxy.addresses", []string{})
	v.SetDefault("proxy.endpoint", "http://127.0.0.1:5010")
	v.SetDefault("proxy.failure_threshold", 3)
	v.SetDefault("proxy.cooldown_seconds", 60)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.members_table", "members")
	v.SetDefault("storage.couplets_table", "couplets")
	v.SetDefault("storage.max_conns", 4)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	cc := c.Crawler
	if cc.MaxTasks <= 0 {
		return fmt.Errorf("crawler.max_tasks must be > 0")
	}
	if cc.MaxTries <= 0 {
		return fmt.Errorf("crawler.max_tries must be > 0")
	}
	if cc.MaxRedirect < 0 {
		return fmt.Errorf("crawler.max_redirect must be >= 0")
	}
	if cc.MaxRequeues < 0 {
		return fmt.Errorf("crawler.max_requeues must be >= 0")
	}
	if cc.TimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.timeout_seconds must be > 0")
	}
	if cc.ShutdownGraceSeconds < 0 {
		return fmt.Errorf("crawler.shutdown_grace_seconds must be >= 0")
	}
	if cc.RateLimitPerHost < 0 {
		return fmt.Errorf("crawler.rate_limit_per_host must be >= 0")
	}
	if !slices.Contains(profiles, cc.Profile) {
		return fmt.Errorf("crawler.profile must be one of %v", profiles)
	}
	if !slices.Contains(proxyModes, c.Proxy.Mode) {
		return fmt.Errorf("proxy.mode must be one of %v", proxyModes)
	}
	if c.Proxy.Mode == "pool" && len(c.Proxy.Addresses) == 0 {
		return fmt.Errorf("proxy.addresses must be set when proxy.mode is pool")
	}
	if c.Proxy.Mode == "service" && c.Proxy.Endpoint == "" {
		return fmt.Errorf("proxy.endpoint must be set when proxy.mode is service")
	}
	if !slices.Contains(storageDriver, c.Storage.Driver) {
		return fmt.Errorf("storage.driver must be one of %v", storageDriver)
	}
	if c.Storage.Driver == "postgres" {
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set when storage.driver is postgres")
		}
		if !identPattern.MatchString(c.Storage.MembersTable) || !identPattern.MatchString(c.Storage.CoupletsTable) {
			return fmt.Errorf("storage table names must be plain identifiers")
		}
	}
	if c.Douban.GroupRangeEnd < c.Douban.GroupRangeStart {
		return fmt.Errorf("douban.group_range_end must be >= douban.group_range_start")
	}
	for i, r := range cc.ItemRoutes {
		if r.Name == "" || r.Pattern == "" {
			return fmt.Errorf("crawler.item_routes[%d] needs a name and a pattern", i)
		}
	}
	return nil
}

// Compile turns the configured pattern strings into regexes.
func (c Config) Compile() (Patterns, error) {
	var p Patterns
	if c.Crawler.Exclude != "" {
		re, err := regexp.Compile(c.Crawler.Exclude)
		if err != nil {
			return Patterns{}, fmt.Errorf("compile crawler.exclude: %w", err)
		}
		p.Exclude = re
	}
	for _, raw := range c.Crawler.AllowedPaths {
		re, err := regexp.Compile(raw)
		if err != nil {
			return Patterns{}, fmt.Errorf("compile crawler.allowed_paths %q: %w", raw, err)
		}
		p.AllowedPaths = append(p.AllowedPaths, re)
	}
	for _, r := range c.Crawler.ItemRoutes {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return Patterns{}, fmt.Errorf("compile route %q: %w", r.Name, err)
		}
		p.Routes = append(p.Routes, crawler.Route{Name: r.Name, Pattern: re})
	}
	return p, nil
}

// Timeout is the per-attempt request timeout.
func (c CrawlerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ShutdownGrace bounds how long in-flight fetches may run after an interrupt.
func (c CrawlerConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// Cooldown is how long a failing proxy is benched.
func (c ProxyConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}
