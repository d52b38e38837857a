package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/spinbot/internal/config"
)

func parseCrawlFlags(t *testing.T, args ...string) (*cobra.Command, *crawlOptions) {
	t.Helper()
	opts := &crawlOptions{root: &rootOptions{}}
	cmd := &cobra.Command{Use: "crawl"}
	opts.bindFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, opts
}

func TestApplyOverrides(t *testing.T) {
	t.Parallel()

	cmd, opts := parseCrawlFlags(t,
		"--max-tasks", "9", "--max-redirect", "2", "--max-tries", "1",
		"--lenient", "-vv", "--profile", "couplet", "--exclude", "logout")

	cfg, err := config.Load("")
	require.NoError(t, err)
	applyOverrides(cmd, opts, &cfg, []string{"example.com"})

	require.Equal(t, 9, cfg.Crawler.MaxTasks)
	require.Equal(t, 2, cfg.Crawler.MaxRedirect)
	require.Equal(t, 1, cfg.Crawler.MaxTries)
	require.False(t, cfg.Crawler.Strict)
	require.Equal(t, "couplet", cfg.Crawler.Profile)
	require.Equal(t, "logout", cfg.Crawler.Exclude)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, []string{"example.com"}, cfg.Crawler.Roots)
}

func TestApplyOverrides_UnchangedFlagsKeepConfig(t *testing.T) {
	t.Parallel()

	cmd, opts := parseCrawlFlags(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.MaxTasks = 42
	cfg.Logging.Level = "warn"
	applyOverrides(cmd, opts, &cfg, nil)

	require.Equal(t, 42, cfg.Crawler.MaxTasks)
	require.True(t, cfg.Crawler.Strict)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Empty(t, cfg.Crawler.Roots)
}

func TestApplyOverrides_Quiet(t *testing.T) {
	t.Parallel()

	cmd, opts := parseCrawlFlags(t, "-q")
	cfg, err := config.Load("")
	require.NoError(t, err)
	applyOverrides(cmd, opts, &cfg, nil)
	require.Equal(t, "error", cfg.Logging.Level)
}

func TestCrawlCommand_EndToEnd(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<a href="/page">p</a><a href="/missing">m</a><a href="http://elsewhere.invalid/">x</a>`))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<a href="/">home</a>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "spinbot.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawler:\n  timeout_seconds: 2\n  max_tries: 1\nlogging:\n  development: false\n"), 0o600))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"crawl", "--config", path, "-q", "--max-tasks", "2", srv.URL + "/"})
	require.NoError(t, root.Execute())

	report := out.String()
	require.Contains(t, report, srv.URL+"/page")
	require.Contains(t, report, srv.URL+"/missing")
	require.NotContains(t, report, "elsewhere.invalid")
	require.Contains(t, report, "Finished 3 urls")
	require.Contains(t, report, "Items: 0")
}

func TestCrawlCommand_NoRoots(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"crawl", "-q"})
	err := root.Execute()
	require.ErrorContains(t, err, "no roots")
}

func TestCrawlCommand_InvalidOverride(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"crawl", "--max-tasks", "0", "example.com"})
	err := root.Execute()
	require.ErrorContains(t, err, "max_tasks")
}

func TestCrawlCommand_StrictAndLenientConflict(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"crawl", "--strict", "--lenient", "example.com"})
	require.Error(t, root.Execute())
}
