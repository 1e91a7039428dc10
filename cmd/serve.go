package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digidex/digidex-crawler/internal/api"
	"github.com/digidex/digidex-crawler/internal/orchestrator"
	"github.com/digidex/digidex-crawler/internal/progress"
	"github.com/digidex/digidex-crawler/internal/progress/sinks"
)

const shutdownGrace = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Hosts the crawler behind an HTTP API",
		Long: `Starts an HTTP server that triggers crawl runs on demand and reports
their progress. Runs started through the API execute in the background;
status, per-run logs, and Prometheus metrics are served while they work.`,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	statusSink := sinks.NewStatusSink(0)
	hub := progress.NewHub(
		progress.Config{Logger: comps.logger},
		sinks.NewLogSink(comps.logger),
		statusSink,
		promSink,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			comps.logger.Warn("close progress hub", zap.Error(err))
		}
	}()

	runner, err := orchestrator.New(orchestrator.Config{
		IndexURLs:   comps.cfg.Crawler.IndexURLs(),
		BaseURL:     comps.cfg.Crawler.BaseURL,
		ArticlePath: comps.cfg.Crawler.ArticlePath,
		Concurrency: comps.cfg.Crawler.Concurrency,
	}, comps.fetcher, comps.repo, comps.images, hub, comps.logger)
	if err != nil {
		return err
	}

	server := api.NewServer(runner, statusSink, comps.repo, registry, comps.logger)
	httpServer := &http.Server{
		Addr:              comps.cfg.HTTP.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		comps.logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	comps.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		comps.logger.Warn("http shutdown", zap.Error(err))
	}

	// Let an in-flight background run finish writing before the repository
	// closes underneath it.
	runner.Wait()
	return nil
}
