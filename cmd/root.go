// Package cmd defines the CLI commands for the webaudit executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"webaudit/internal/config"
	"webaudit/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webaudit",
		Short: "Audit a website's content, structure, and crawlability",
		Long: `webaudit crawls a site starting from a seed URL, honoring robots.txt
and same-origin boundaries, and publishes a structured audit report with
per-page content extracts, SEO signals, and crawl statistics.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default uses built-in defaults)")

	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newRobotsCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the logger shared by all
// subcommands.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}
