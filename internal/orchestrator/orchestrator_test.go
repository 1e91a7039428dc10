package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digidex/digidex-crawler/internal/crawl"
	"github.com/digidex/digidex-crawler/internal/imagestore"
	"github.com/digidex/digidex-crawler/internal/progress"
	"github.com/digidex/digidex-crawler/internal/repository"
)

const baseURL = "https://wiki.test"

// fakeFetcher serves canned bodies per URL and counts calls.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string][]byte
	errs    map[string]error
	calls   map[string]int
	blockCh chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages: make(map[string][]byte),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.blockCh != nil {
		select {
		case <-f.blockCh:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	if body, ok := f.pages[url]; ok {
		return body, nil
	}
	return nil, fmt.Errorf("%s: %w", url, crawl.ErrNotFound)
}

func (f *fakeFetcher) FetchImage(ctx context.Context, url string) ([]byte, error) {
	return f.Fetch(ctx, url)
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// collectEmitter records emitted events in order.
type collectEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *collectEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *collectEmitter) snapshot() []progress.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]progress.Event(nil), c.events...)
}

func (c *collectEmitter) byStage(stage progress.Stage) []progress.Event {
	var out []progress.Event
	for _, evt := range c.snapshot() {
		if evt.Stage == stage {
			out = append(out, evt)
		}
	}
	return out
}

func indexMarkup(names ...string) []byte {
	var sb strings.Builder
	sb.WriteString("<html><body><table>")
	for _, name := range names {
		fmt.Fprintf(&sb, `<tr><td><a href="/wiki/%s">%s</a></td></tr>`, name, name)
	}
	sb.WriteString("</table></body></html>")
	return []byte(sb.String())
}

func detailMarkup(description, imageURL string) []byte {
	img := ""
	if imageURL != "" {
		img = fmt.Sprintf(`<figure><img src=%q></figure>`, imageURL)
	}
	return fmt.Appendf(nil, `<html><body>
<aside class="portable-infobox">%s
<div data-source="description"><div class="pi-data-value">%s</div></div>
</aside></body></html>`, img, description)
}

type fixture struct {
	runner  *Runner
	fetcher *fakeFetcher
	repo    *repository.SQLiteRepository
	images  *imagestore.Store
	emitter *collectEmitter
}

func newFixture(t *testing.T, cfg Config, fetcher *fakeFetcher) fixture {
	t.Helper()
	repo, err := repository.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	images, err := imagestore.New(t.TempDir())
	require.NoError(t, err)

	if cfg.BaseURL == "" {
		cfg.BaseURL = baseURL
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	emitter := &collectEmitter{}
	runner, err := New(cfg, fetcher, repo, images, emitter, nil)
	require.NoError(t, err)

	return fixture{runner: runner, fetcher: fetcher, repo: repo, images: images, emitter: emitter}
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[baseURL+"/list"] = indexMarkup("Agumon")
	fetcher.pages[baseURL+"/wiki/Agumon"] = detailMarkup("A Digimon that has grown up", baseURL+"/img/agumon.png")
	fetcher.pages[baseURL+"/img/agumon.png"] = []byte{0x89, 'P', 'N', 'G'}

	fx := newFixture(t, Config{IndexURLs: []string{baseURL + "/list"}}, fetcher)
	require.NoError(t, fx.runner.Run(context.Background()))
	require.Equal(t, crawl.RunStatusCompleted, fx.runner.Status())

	record, err := fx.repo.Get(context.Background(), "Agumon")
	require.NoError(t, err)
	require.Equal(t, "A Digimon that has grown up", record.Description)

	imgData, err := os.ReadFile(fx.images.Path("Agumon"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x89, 'P', 'N', 'G'}, imgData)

	items := fx.emitter.byStage(progress.StageItemDone)
	require.Len(t, items, 1)
	require.Equal(t, "saved", items[0].Outcome)
	require.Equal(t, 100, items[0].Percent())
	require.Len(t, fx.emitter.byStage(progress.StageRunDone), 1)
}

func TestDiscoveryDedupAcrossSources(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[baseURL+"/list"] = indexMarkup("Agumon", "Agumon", "Gabumon")
	fetcher.pages[baseURL+"/cards"] = indexMarkup("Agumon")
	fetcher.pages[baseURL+"/wiki/Agumon"] = detailMarkup("desc a", "")
	fetcher.pages[baseURL+"/wiki/Gabumon"] = detailMarkup("desc g", "")

	fx := newFixture(t, Config{IndexURLs: []string{baseURL + "/list", baseURL + "/cards"}}, fetcher)
	require.NoError(t, fx.runner.Run(context.Background()))

	discovered := fx.emitter.byStage(progress.StageRunDiscovered)
	require.Len(t, discovered, 1)
	require.Equal(t, 2, discovered[0].Total)
	require.Equal(t, 1, fetcher.callCount(baseURL+"/wiki/Agumon"))

	count, err := fx.repo.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
}

func TestItemFailureDoesNotAbortRun(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[baseURL+"/list"] = indexMarkup("Agumon", "Gabumon", "Tentomon")
	fetcher.pages[baseURL+"/wiki/Agumon"] = detailMarkup("desc a", "")
	fetcher.errs[baseURL+"/wiki/Gabumon"] = &crawl.NetworkError{URL: baseURL + "/wiki/Gabumon", Attempts: 3}
	fetcher.pages[baseURL+"/wiki/Tentomon"] = detailMarkup("desc t", "")

	fx := newFixture(t, Config{IndexURLs: []string{baseURL + "/list"}}, fetcher)
	require.NoError(t, fx.runner.Run(context.Background()))
	require.Equal(t, crawl.RunStatusCompleted, fx.runner.Status())

	items := fx.emitter.byStage(progress.StageItemDone)
	require.Len(t, items, 3)

	// Emission is serialized under the counter mutex, so observed
	// completed values must climb one by one to total.
	outcomes := map[string]string{}
	for i, evt := range items {
		require.Equal(t, i+1, evt.Completed)
		require.Equal(t, 3, evt.Total)
		outcomes[evt.Entity] = evt.Outcome
	}
	require.Equal(t, "failed", outcomes["Gabumon"])
	require.Equal(t, "saved", outcomes["Agumon"])
	require.Equal(t, 100, items[2].Percent())
}

func TestDiscoveryFailureFailsRun(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.errs[baseURL+"/list"] = &crawl.NetworkError{URL: baseURL + "/list", Attempts: 3}
	fetcher.errs[baseURL+"/cards"] = &crawl.NetworkError{URL: baseURL + "/cards", Attempts: 3}

	fx := newFixture(t, Config{IndexURLs: []string{baseURL + "/list", baseURL + "/cards"}}, fetcher)
	err := fx.runner.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, crawl.RunStatusFailed, fx.runner.Status())
	require.Len(t, fx.emitter.byStage(progress.StageRunError), 1)
	require.Empty(t, fx.emitter.byStage(progress.StageItemDone))
}

func TestDiscoveryZeroEntitiesFailsRun(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[baseURL+"/list"] = []byte("<html><body><table></table></body></html>")

	fx := newFixture(t, Config{IndexURLs: []string{baseURL + "/list"}}, fetcher)
	err := fx.runner.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no entities")
	require.Equal(t, crawl.RunStatusFailed, fx.runner.Status())
}

func TestSecondRunIsIdempotent(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[baseURL+"/list"] = indexMarkup("Agumon", "Gabumon")
	fetcher.pages[baseURL+"/wiki/Agumon"] = detailMarkup("desc a", "")
	fetcher.pages[baseURL+"/wiki/Gabumon"] = detailMarkup("desc g", "")

	fx := newFixture(t, Config{IndexURLs: []string{baseURL + "/list"}}, fetcher)
	require.NoError(t, fx.runner.Run(context.Background()))
	require.NoError(t, fx.runner.Run(context.Background()))

	count, err := fx.repo.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	// The existence check short-circuits before any detail fetch.
	require.Equal(t, 1, fetcher.callCount(baseURL+"/wiki/Agumon"))

	var skipped int
	for _, evt := range fx.emitter.byStage(progress.StageItemDone) {
		if evt.Outcome == "skipped" {
			skipped++
		}
	}
	require.Equal(t, 2, skipped)
}

func TestDetailNotFoundIsSkip(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[baseURL+"/list"] = indexMarkup("Lost_Mon")
	// No detail page registered: the fake returns crawl.ErrNotFound.

	fx := newFixture(t, Config{IndexURLs: []string{baseURL + "/list"}}, fetcher)
	require.NoError(t, fx.runner.Run(context.Background()))

	items := fx.emitter.byStage(progress.StageItemDone)
	require.Len(t, items, 1)
	require.Equal(t, "skipped", items[0].Outcome)
	require.Equal(t, "page not found", items[0].Note)
}

func TestImageFailureDegradesToNoImage(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.pages[baseURL+"/list"] = indexMarkup("Agumon")
	fetcher.pages[baseURL+"/wiki/Agumon"] = detailMarkup("desc a", baseURL+"/img/missing.png")
	fetcher.errs[baseURL+"/img/missing.png"] = fmt.Errorf("boom")

	fx := newFixture(t, Config{IndexURLs: []string{baseURL + "/list"}}, fetcher)
	require.NoError(t, fx.runner.Run(context.Background()))

	items := fx.emitter.byStage(progress.StageItemDone)
	require.Len(t, items, 1)
	require.Equal(t, "saved", items[0].Outcome)

	_, err := os.Stat(fx.images.Path("Agumon"))
	require.True(t, os.IsNotExist(err))
}

func TestStartRejectsConcurrentRun(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.blockCh = make(chan struct{})
	fetcher.pages[baseURL+"/list"] = indexMarkup("Agumon")
	fetcher.pages[baseURL+"/wiki/Agumon"] = detailMarkup("desc a", "")

	fx := newFixture(t, Config{IndexURLs: []string{baseURL + "/list"}}, fetcher)

	id, err := fx.runner.Start(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", id.String())

	_, err = fx.runner.Start(context.Background())
	require.ErrorIs(t, err, crawl.ErrRunActive)

	close(fetcher.blockCh)
	fx.runner.Wait()
	require.Equal(t, crawl.RunStatusCompleted, fx.runner.Status())

	// A finished runner accepts the next run.
	_, err = fx.runner.Start(context.Background())
	require.NoError(t, err)
	fx.runner.Wait()
}

func TestRunCanceledStopsDispatching(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	names := make([]string, 50)
	for i := range names {
		names[i] = fmt.Sprintf("Mon%02d", i)
	}
	fetcher.pages[baseURL+"/list"] = indexMarkup(names...)
	for _, name := range names {
		fetcher.pages[baseURL+"/wiki/"+name] = detailMarkup("desc", "")
	}

	fx := newFixture(t, Config{IndexURLs: []string{baseURL + "/list"}, Concurrency: 1}, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := fx.runner.Run(ctx)
	require.Error(t, err)
	require.Equal(t, crawl.RunStatusFailed, fx.runner.Status())
}

func TestDedupRefs(t *testing.T) {
	t.Parallel()

	refs := []crawl.EntityRef{
		{Name: "Agumon", SourceURL: "u1"},
		{Name: "Agumon", SourceURL: "u2"},
		{Name: "", SourceURL: "u3"},
		{Name: "Gabumon", SourceURL: "u4"},
	}
	deduped := dedupRefs(refs)
	require.Equal(t, []crawl.EntityRef{
		{Name: "Agumon", SourceURL: "u1"},
		{Name: "Gabumon", SourceURL: "u4"},
	}, deduped)
}
