package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"webaudit/internal/api"
	"webaudit/internal/progress"
	"webaudit/internal/progress/sinks"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the audit HTTP API",
		Long: `Starts an HTTP server that accepts audit submissions, reports run
status, serves published report artifacts, and exposes Prometheus
metrics on /metrics.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

func runServe(ctx context.Context, port int) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if port <= 0 {
		port = cfg.Server.Port
	}

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{}, sinks.NewLogSink(logger), promSink)
	defer func() {
		if cerr := hub.Close(context.Background()); cerr != nil {
			logger.Warn("progress hub shutdown failed", zap.Error(cerr))
		}
	}()

	runner := func(runCtx context.Context, req api.AuditRequest) (string, error) {
		return executeAudit(runCtx, cfg, auditOptions{
			url:         req.URL,
			engine:      engineAgent,
			scope:       req.Scope,
			maxPages:    req.MaxPages,
			screenshots: req.Screenshots,
		}, hub, logger)
	}
	server := api.NewServer(runner, cfg.Output.Dir, registry, logger)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", zap.Int("port", port))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve api: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api: %w", err)
	}
	logger.Info("api stopped")
	return nil
}
