// Package cmd defines and implements the CLI commands for the spinbot executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "spinbot",
		Short: "A concurrent, proxy-aware web crawler.",
		Long: `spinbot crawls a set of root URLs, stays inside their domains, and hands
matching pages to item handlers that extract structured records. Requests can
be spread over a rotating pool of upstream proxies.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML); SPINBOT_* env vars also apply")
	cmd.AddCommand(newCrawlCmd(opts))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "spinbot:", err)
		os.Exit(1)
	}
}
