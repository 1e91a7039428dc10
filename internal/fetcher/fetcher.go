// Package fetcher implements the HTTP fetch layer using gocolly.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/digidex/digidex-crawler/internal/crawl"
)

// Config controls fetch behavior.
type Config struct {
	// Timeout bounds each individual HTTP request.
	Timeout time.Duration
	// RetryAttempts is the total number of attempts per required fetch.
	RetryAttempts int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
	// UserAgents overrides the built-in identity pool when non-empty.
	UserAgents []string
}

const (
	defaultTimeout       = 10 * time.Second
	defaultRetryAttempts = 3
	defaultRetryDelay    = 3 * time.Second
)

// Fetcher issues GET requests through per-request Colly collectors. Each
// request carries an identity header drawn from the pool owned by this
// Fetcher; there is no package-level rotation state.
type Fetcher struct {
	cfg        Config
	policy     retryPolicy
	identities *identityPool
	base       *colly.Collector
	logger     *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// colly v2.1.0's Async option ignores its argument and always enables
	// async mode; set the field directly to keep the collector synchronous.
	c := colly.NewCollector()
	c.Async = false
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:        cfg,
		policy:     retryPolicy{attempts: cfg.RetryAttempts, delay: cfg.RetryDelay},
		identities: newIdentityPool(cfg.UserAgents),
		base:       c,
		logger:     logger,
	}
}

// Fetch downloads a required page, retrying transient failures with the
// configured fixed delay. A 404 maps to crawl.ErrNotFound and is never
// retried; exhausting the attempt budget yields a crawl.NetworkError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= f.policy.attempts; attempt++ {
		body, err := f.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		if !f.policy.retryable(err) {
			return nil, err
		}
		lastErr = err
		f.logger.Debug("fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == f.policy.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
		case <-time.After(f.policy.delay):
		}
	}
	return nil, &crawl.NetworkError{URL: url, Attempts: f.policy.attempts, Err: lastErr}
}

// FetchImage downloads an image in a single attempt. Image fetches are
// best-effort; callers degrade any failure to "no image".
func (f *Fetcher) FetchImage(ctx context.Context, url string) ([]byte, error) {
	return f.fetchOnce(ctx, url)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	collector := f.base.Clone()
	collector.UserAgent = f.identities.pick()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body       []byte
		statusCode int
		fetchErr   error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if statusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", url, crawl.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("response %s: %w", url, fetchErr)
		}
		return body, nil
	}
}

// retryPolicy implements the fixed-delay retry contract for required fetches.
type retryPolicy struct {
	attempts int
	delay    time.Duration
}

func (p retryPolicy) retryable(err error) bool {
	if err == nil {
		return false
	}
	// Application-level absence and caller cancellation are final.
	if errors.Is(err, crawl.ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
