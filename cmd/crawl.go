package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digidex/digidex-crawler/internal/orchestrator"
	"github.com/digidex/digidex-crawler/internal/progress"
	"github.com/digidex/digidex-crawler/internal/progress/sinks"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl in the foreground",
		Long: `Discovers entity pages from the configured index pages, then downloads
and stores every entity that is not already present. Progress is written
to the log as the run advances.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.close()

	hub := progress.NewHub(
		progress.Config{Logger: comps.logger},
		sinks.NewLogSink(comps.logger),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
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

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	return nil
}
