// Package config loads application settings through Viper. Settings come
// from a config file, environment variables with the DIGIDEX prefix, and
// built-in defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the typed view of everything the crawler needs. Source URLs and
// output paths are passed in explicitly rather than read from ambient state
// by the components themselves.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Storage StorageConfig `mapstructure:"storage"`
	HTTP    HTTPConfig    `mapstructure:"http"`
}

// CrawlerConfig controls discovery and fetch behavior.
type CrawlerConfig struct {
	// BaseURL is the site origin index links are resolved against.
	BaseURL string `mapstructure:"base_url"`
	// IndexPaths are the index pages crawled during discovery, relative to
	// BaseURL. The defaults cover the general list and the card catalog.
	IndexPaths []string `mapstructure:"index_paths"`
	// ArticlePath is the path prefix that marks entity detail links.
	ArticlePath string `mapstructure:"article_path"`

	Concurrency    int           `mapstructure:"concurrency"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	Development bool `mapstructure:"development"`
}

// StorageConfig names the local persistence targets.
type StorageConfig struct {
	DatabaseDir string `mapstructure:"database_dir"`
	ImageDir    string `mapstructure:"image_dir"`
}

// HTTPConfig controls the serve command.
type HTTPConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Init registers defaults, environment binding, and the optional config file
// on v. Call once at startup before Load.
func Init(v *viper.Viper, cfgFile string) error {
	v.SetDefault("crawler.base_url", "https://digimon.fandom.com")
	v.SetDefault("crawler.index_paths", []string{
		"/wiki/List_of_Digimon",
		"/wiki/Digimon_Card_Index",
	})
	v.SetDefault("crawler.article_path", "/wiki/")
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.retry_attempts", 3)
	v.SetDefault("crawler.retry_delay", "3s")
	v.SetDefault("crawler.request_timeout", "10s")
	v.SetDefault("crawler.development", false)

	v.SetDefault("storage.database_dir", "data")
	v.SetDefault("storage.image_dir", "data/images")

	v.SetDefault("http.listen_addr", ":8080")

	v.SetEnvPrefix("DIGIDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.digidex")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && cfgFile == "" {
			// Defaults plus environment variables are enough.
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Crawler.BaseURL == "" {
		return errors.New("crawler.base_url must not be empty")
	}
	if len(c.Crawler.IndexPaths) == 0 {
		return errors.New("crawler.index_paths must name at least one index page")
	}
	if c.Crawler.ArticlePath == "" {
		return errors.New("crawler.article_path must not be empty")
	}
	if c.Crawler.Concurrency < 1 {
		return fmt.Errorf("crawler.concurrency must be >= 1, got %d", c.Crawler.Concurrency)
	}
	if c.Crawler.RetryAttempts < 1 {
		return fmt.Errorf("crawler.retry_attempts must be >= 1, got %d", c.Crawler.RetryAttempts)
	}
	if c.Crawler.RequestTimeout <= 0 {
		return errors.New("crawler.request_timeout must be positive")
	}
	if c.Storage.DatabaseDir == "" {
		return errors.New("storage.database_dir must not be empty")
	}
	if c.Storage.ImageDir == "" {
		return errors.New("storage.image_dir must not be empty")
	}
	return nil
}

// IndexURLs joins BaseURL with each configured index path.
func (c CrawlerConfig) IndexURLs() []string {
	base := strings.TrimRight(c.BaseURL, "/")
	urls := make([]string, 0, len(c.IndexPaths))
	for _, p := range c.IndexPaths {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		urls = append(urls, base+p)
	}
	return urls
}
