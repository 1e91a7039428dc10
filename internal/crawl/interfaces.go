package crawl

import "context"

// Fetcher retrieves raw page bytes over HTTP.
type Fetcher interface {
	// Fetch downloads a required page with the configured retry budget.
	Fetch(ctx context.Context, url string) ([]byte, error)
	// FetchImage downloads an image in a single best-effort attempt.
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

// Repository persists entity records keyed by name.
type Repository interface {
	Exists(ctx context.Context, name string) (bool, error)
	// Save inserts the record unless a row with the same name already
	// exists. It reports whether a row was written.
	Save(ctx context.Context, record EntityRecord) (bool, error)
	// Get returns the stored record, or ErrNotFound when no row exists.
	Get(ctx context.Context, name string) (EntityRecord, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// ImageStore writes per-entity image files.
type ImageStore interface {
	// Save writes the image bytes for the named entity. Empty data is a
	// silent no-op.
	Save(name string, data []byte) error
}
