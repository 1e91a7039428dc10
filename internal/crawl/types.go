package crawl

// RunStatus represents the lifecycle state of a crawl run.
type RunStatus string

// Run status values reported through the progress stream.
const (
	RunStatusIdle        RunStatus = "idle"
	RunStatusDiscovering RunStatus = "discovering"
	RunStatusProcessing  RunStatus = "processing"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusFailed      RunStatus = "failed"
)

// EntityRef points at one entity detail page discovered on an index page.
// Identity is the name; refs sharing a name are duplicates.
type EntityRef struct {
	Name      string `json:"name"`
	SourceURL string `json:"source_url"`
}

// EntityRecord is the persisted form of one crawled entity.
type EntityRecord struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Outcome classifies how processing one entity ended.
type Outcome string

// Per-entity outcomes tracked by the orchestrator.
const (
	OutcomeSaved   Outcome = "saved"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)
