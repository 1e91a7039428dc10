// Package cmd defines the CLI commands for the digidex executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/digidex/digidex-crawler/internal/config"
	"github.com/digidex/digidex-crawler/internal/fetcher"
	"github.com/digidex/digidex-crawler/internal/imagestore"
	"github.com/digidex/digidex-crawler/internal/logging"
	"github.com/digidex/digidex-crawler/internal/repository"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "digidex",
		Short: "A wiki crawler that builds a local Digimon index.",
		Long: `digidex discovers entity pages from the configured wiki index pages,
downloads each entity's description and image, and stores them locally.
Run "digidex crawl" for a one-shot crawl or "digidex serve" to expose the
crawler over HTTP.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yaml, then $HOME/.digidex/config.yaml)")
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// components bundles everything both subcommands need.
type components struct {
	cfg     config.Config
	logger  *zap.Logger
	fetcher *fetcher.Fetcher
	repo    *repository.SQLiteRepository
	images  *imagestore.Store
}

func buildComponents() (*components, error) {
	v := viper.New()
	if err := config.Init(v, cfgFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Crawler.Development)
	if err != nil {
		return nil, err
	}

	repo, err := repository.Open(cfg.Storage.DatabaseDir)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	images, err := imagestore.New(cfg.Storage.ImageDir)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("open image store: %w", err)
	}

	f := fetcher.New(fetcher.Config{
		Timeout:       cfg.Crawler.RequestTimeout,
		RetryAttempts: cfg.Crawler.RetryAttempts,
		RetryDelay:    cfg.Crawler.RetryDelay,
	}, logger)

	return &components{
		cfg:     cfg,
		logger:  logger,
		fetcher: f,
		repo:    repo,
		images:  images,
	}, nil
}

func (c *components) close() {
	if err := c.repo.Close(); err != nil {
		c.logger.Warn("close repository", zap.Error(err))
	}
	_ = c.logger.Sync()
}
