// Package orchestrator drives a crawl run: index discovery, dedup, bounded
// fan-out over entity detail pages, and progress reporting.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/digidex/digidex-crawler/internal/crawl"
	"github.com/digidex/digidex-crawler/internal/parser"
	"github.com/digidex/digidex-crawler/internal/progress"
)

// Config controls a Runner.
type Config struct {
	// IndexURLs are the index pages fetched during discovery: the general
	// entity list and the card-catalog list by default.
	IndexURLs []string
	// BaseURL is the site origin index links resolve against.
	BaseURL string
	// ArticlePath is the path prefix marking entity detail links.
	ArticlePath string
	// Concurrency bounds the worker pool (default 8).
	Concurrency int
}

const defaultConcurrency = 8

// Runner executes crawl runs one at a time. A run moves through
// discovering → processing → completed, or failed when discovery itself
// errors. Per-entity failures are contained at the item boundary and never
// abort the run.
type Runner struct {
	cfg     Config
	base    *url.URL
	fetcher crawl.Fetcher
	repo    crawl.Repository
	images  crawl.ImageStore
	emitter progress.Emitter
	logger  *zap.Logger

	// mu guards the run state below and serializes progress emission so
	// observed completed counts are exact and monotonic.
	mu        sync.Mutex
	active    bool
	status    crawl.RunStatus
	completed int
	total     int
	runID     uuid.UUID

	wg sync.WaitGroup
}

// New constructs a Runner.
func New(
	cfg Config,
	fetcher crawl.Fetcher,
	repo crawl.Repository,
	images crawl.ImageStore,
	emitter progress.Emitter,
	logger *zap.Logger,
) (*Runner, error) {
	if len(cfg.IndexURLs) == 0 {
		return nil, errors.New("orchestrator: at least one index URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("orchestrator: invalid base URL %q", cfg.BaseURL)
	}
	if cfg.ArticlePath == "" {
		cfg.ArticlePath = "/wiki/"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		base:    base,
		fetcher: fetcher,
		repo:    repo,
		images:  images,
		emitter: emitter,
		logger:  logger,
		status:  crawl.RunStatusIdle,
	}, nil
}

// Run executes one crawl run in the foreground. It returns an error only
// when discovery fails or the run is canceled; item failures are reported
// through the progress stream.
func (r *Runner) Run(ctx context.Context) error {
	id, err := r.begin()
	if err != nil {
		return err
	}
	return r.run(ctx, id)
}

// Start launches a run in the background and returns its ID. It fails with
// crawl.ErrRunActive while a run is in flight.
func (r *Runner) Start(ctx context.Context) (uuid.UUID, error) {
	id, err := r.begin()
	if err != nil {
		return uuid.Nil, err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.run(ctx, id); err != nil {
			r.logger.Warn("crawl run ended with error",
				zap.String("run_id", id.String()), zap.Error(err))
		}
	}()
	return id, nil
}

// Wait blocks until any background run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Status returns the current lifecycle state.
func (r *Runner) Status() crawl.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Progress returns the shared completed/total counters.
func (r *Runner) Progress() (completed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed, r.total
}

func (r *Runner) begin() (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active {
		return uuid.Nil, crawl.ErrRunActive
	}
	r.active = true
	r.runID = uuid.New()
	r.completed = 0
	r.total = 0
	r.status = crawl.RunStatusDiscovering
	return r.runID, nil
}

func (r *Runner) run(ctx context.Context, id uuid.UUID) error {
	start := time.Now()
	defer func() {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
	}()

	r.emit(id, progress.Event{Stage: progress.StageRunStart})

	refs, err := r.discover(ctx)
	if err != nil {
		r.setStatus(crawl.RunStatusFailed)
		r.emit(id, progress.Event{
			Stage: progress.StageRunError,
			Note:  err.Error(),
			Dur:   time.Since(start),
		})
		return err
	}

	r.mu.Lock()
	r.total = len(refs)
	r.status = crawl.RunStatusProcessing
	r.mu.Unlock()
	r.emit(id, progress.Event{Stage: progress.StageRunDiscovered, Total: len(refs)})
	r.logger.Info("discovery finished",
		zap.String("run_id", id.String()),
		zap.Int("entities", len(refs)),
	)

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for _, ref := range refs {
		ref := ref
		if ctx.Err() != nil {
			// Stop dispatching; in-flight items finish on their own
			// timeouts.
			break
		}
		g.Go(func() error {
			itemStart := time.Now()
			outcome, note := r.processOne(ctx, ref)
			r.advance(id, ref.Name, outcome, note, time.Since(itemStart))
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		r.setStatus(crawl.RunStatusFailed)
		r.emit(id, progress.Event{
			Stage: progress.StageRunError,
			Note:  "run canceled",
			Dur:   time.Since(start),
		})
		return fmt.Errorf("crawl run: %w", ctx.Err())
	}

	r.setStatus(crawl.RunStatusCompleted)
	r.emit(id, progress.Event{
		Stage:     progress.StageRunDone,
		Completed: len(refs),
		Total:     len(refs),
		Dur:       time.Since(start),
	})
	return nil
}

// discover fetches and parses every index source sequentially, then
// deduplicates by name. The total must be known before the pool starts, so
// progress can be reported meaningfully.
func (r *Runner) discover(ctx context.Context) ([]crawl.EntityRef, error) {
	var (
		all  []crawl.EntityRef
		errs []error
	)
	for _, indexURL := range r.cfg.IndexURLs {
		body, err := r.fetcher.Fetch(ctx, indexURL)
		if err != nil {
			r.logger.Warn("index fetch failed",
				zap.String("url", indexURL), zap.Error(err))
			errs = append(errs, fmt.Errorf("index %s: %w", indexURL, err))
			continue
		}
		refs, err := parser.ParseIndex(body, r.base, r.cfg.ArticlePath)
		if err != nil {
			r.logger.Warn("index parse failed",
				zap.String("url", indexURL), zap.Error(err))
			errs = append(errs, fmt.Errorf("index %s: %w", indexURL, err))
			continue
		}
		all = append(all, refs...)
	}
	if len(errs) == len(r.cfg.IndexURLs) {
		return nil, fmt.Errorf("all index sources failed: %w", errors.Join(errs...))
	}
	deduped := dedupRefs(all)
	if len(deduped) == 0 {
		// Zero candidates from a reachable index means the site layout
		// drifted out from under the selectors.
		return nil, errors.New("discovery yielded no entities")
	}
	return deduped, nil
}

// processOne runs the full pipeline for a single entity. All failures are
// reduced to an outcome plus a human-readable cause.
func (r *Runner) processOne(ctx context.Context, ref crawl.EntityRef) (crawl.Outcome, string) {
	exists, err := r.repo.Exists(ctx, ref.Name)
	if err != nil {
		return crawl.OutcomeFailed, err.Error()
	}
	if exists {
		return crawl.OutcomeSkipped, "already stored"
	}

	body, err := r.fetcher.Fetch(ctx, ref.SourceURL)
	if err != nil {
		if errors.Is(err, crawl.ErrNotFound) {
			return crawl.OutcomeSkipped, "page not found"
		}
		return crawl.OutcomeFailed, err.Error()
	}

	detail, err := parser.ParseDetail(body)
	if err != nil {
		return crawl.OutcomeFailed, err.Error()
	}

	// Image download is best-effort: a failure degrades to "no image".
	var imageData []byte
	if detail.ImageURL != "" {
		imageData, err = r.fetcher.FetchImage(ctx, r.resolveImageURL(ref.SourceURL, detail.ImageURL))
		if err != nil {
			r.logger.Debug("image fetch failed",
				zap.String("entity", ref.Name), zap.Error(err))
			imageData = nil
		}
	}

	inserted, err := r.repo.Save(ctx, crawl.EntityRecord{
		Name:        ref.Name,
		Description: detail.Description,
	})
	if err != nil {
		return crawl.OutcomeFailed, err.Error()
	}
	if err := r.images.Save(ref.Name, imageData); err != nil {
		return crawl.OutcomeFailed, err.Error()
	}
	if !inserted {
		return crawl.OutcomeSkipped, "already stored"
	}
	return crawl.OutcomeSaved, ""
}

// advance moves the shared counter by one attempted item and publishes the
// matching event. Emission happens under the counter mutex so sinks observe
// completed counts in order.
func (r *Runner) advance(id uuid.UUID, entity string, outcome crawl.Outcome, note string, dur time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	r.emitter.Emit(progress.Event{
		RunID:     progress.UUIDToBytes(id),
		TS:        time.Now().UTC(),
		Stage:     progress.StageItemDone,
		Entity:    entity,
		Outcome:   string(outcome),
		Completed: r.completed,
		Total:     r.total,
		Dur:       dur,
		Note:      note,
	})
}

func (r *Runner) setStatus(status crawl.RunStatus) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

func (r *Runner) emit(id uuid.UUID, evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(id)
	evt.TS = time.Now().UTC()
	r.emitter.Emit(evt)
}

// resolveImageURL resolves a possibly-relative thumbnail URL against the
// detail page it came from.
func (r *Runner) resolveImageURL(pageURL, imageURL string) string {
	img, err := url.Parse(imageURL)
	if err != nil {
		return imageURL
	}
	page, err := url.Parse(pageURL)
	if err != nil {
		return imageURL
	}
	return page.ResolveReference(img).String()
}

// dedupRefs removes duplicate names, first occurrence wins.
func dedupRefs(refs []crawl.EntityRef) []crawl.EntityRef {
	seen := make(map[string]struct{}, len(refs))
	deduped := make([]crawl.EntityRef, 0, len(refs))
	for _, ref := range refs {
		if ref.Name == "" {
			continue
		}
		if _, ok := seen[ref.Name]; ok {
			continue
		}
		seen[ref.Name] = struct{}{}
		deduped = append(deduped, ref)
	}
	return deduped
}
