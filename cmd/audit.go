package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"webaudit/internal/progress"
	"webaudit/internal/progress/sinks"
)

func newAuditCmd() *cobra.Command {
	opts := auditOptions{}

	cmd := &cobra.Command{
		Use:   "audit <url>",
		Short: "Crawl a site and publish an audit report",
		Long: `Crawls the given site within its origin, bounded by the page budget,
and publishes report.json, report.md, and per-page extracts into a
timestamped run directory. Ctrl-C cancels the run without leaving
partial output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.url = args[0]
			opts.resumeInput = os.Stdin
			return runAudit(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.engine, "engine", engineAgent, "crawl engine: agent (state machine) or flat (worker pool)")
	cmd.Flags().StringVar(&opts.scope, "scope", "", "crawl scope: site (follow links) or provided (seed only)")
	cmd.Flags().IntVar(&opts.maxPages, "max-pages", 0, "page budget for the run")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "parallel page fetches")
	cmd.Flags().BoolVar(&opts.screenshots, "screenshots", false, "capture a screenshot per page")
	cmd.Flags().BoolVar(&opts.attended, "attended", false, "pause for operator input on bot challenges")
	cmd.Flags().StringVar(&opts.outputDir, "output", "", "reports root directory")
	return cmd
}

func runAudit(ctx context.Context, opts auditOptions) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := progress.NewHub(progress.Config{}, sinks.NewLogSink(logger))
	defer func() {
		if cerr := hub.Close(context.Background()); cerr != nil {
			logger.Warn("progress hub shutdown failed", zap.Error(cerr))
		}
	}()

	dir, err := executeAudit(ctx, cfg, opts, hub, logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("audit canceled, no report published")
			return err
		}
		return fmt.Errorf("audit %s: %w", opts.url, err)
	}
	fmt.Println("Report published to", dir)
	return nil
}
