package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/digidex/digidex-crawler/internal/crawl"
	"github.com/digidex/digidex-crawler/internal/progress"
)

const defaultMaxLogLines = 10000

// RunState is the latest observable view of one crawl run.
type RunState struct {
	RunID      uuid.UUID       `json:"run_id"`
	Status     crawl.RunStatus `json:"status"`
	Completed  int             `json:"completed"`
	Total      int             `json:"total"`
	Percent    int             `json:"percent"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type runEntry struct {
	state RunState
	log   []string
}

// StatusSink folds progress events into per-run state plus an append-only
// log, for consumers that poll (the HTTP API). Percent is derived from the
// monotonic completed counter, so observed values never decrease.
type StatusSink struct {
	mu          sync.RWMutex
	runs        map[uuid.UUID]*runEntry
	latest      uuid.UUID
	maxLogLines int
}

// NewStatusSink returns an empty sink. maxLogLines <= 0 selects the default
// cap; when the cap is hit the oldest lines are discarded.
func NewStatusSink(maxLogLines int) *StatusSink {
	if maxLogLines <= 0 {
		maxLogLines = defaultMaxLogLines
	}
	return &StatusSink{
		runs:        make(map[uuid.UUID]*runEntry),
		maxLogLines: maxLogLines,
	}
}

// Consume updates run state from the batch.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.apply(evt)
	}
	return nil
}

func (s *StatusSink) apply(evt progress.Event) {
	id := evt.RunUUID()
	entry, ok := s.runs[id]
	if !ok {
		entry = &runEntry{state: RunState{RunID: id, Status: crawl.RunStatusIdle}}
		s.runs[id] = entry
	}
	s.latest = id

	switch evt.Stage {
	case progress.StageRunStart:
		entry.state.Status = crawl.RunStatusDiscovering
		entry.state.StartedAt = evt.TS
	case progress.StageRunDiscovered:
		entry.state.Status = crawl.RunStatusProcessing
		entry.state.Total = evt.Total
	case progress.StageItemDone:
		if evt.Completed > entry.state.Completed {
			entry.state.Completed = evt.Completed
		}
		entry.state.Total = evt.Total
		entry.state.Percent = percent(entry.state.Completed, entry.state.Total)
	case progress.StageRunDone:
		entry.state.Status = crawl.RunStatusCompleted
		ts := evt.TS
		entry.state.FinishedAt = &ts
	case progress.StageRunError:
		entry.state.Status = crawl.RunStatusFailed
		entry.state.Error = evt.Note
		ts := evt.TS
		entry.state.FinishedAt = &ts
	}

	entry.log = append(entry.log, FormatLine(evt))
	if over := len(entry.log) - s.maxLogLines; over > 0 {
		entry.log = entry.log[over:]
	}
}

// Run returns the latest state for the given run.
func (s *StatusSink) Run(id uuid.UUID) (RunState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.runs[id]
	if !ok {
		return RunState{}, false
	}
	return entry.state, true
}

// LatestRun returns the most recently updated run.
func (s *StatusSink) LatestRun() (RunState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.runs[s.latest]
	if !ok {
		return RunState{}, false
	}
	return entry.state, true
}

// LogLines returns a copy of the run's log.
func (s *StatusSink) LogLines(id uuid.UUID) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return append([]string(nil), entry.log...), true
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}

func percent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return completed * 100 / total
}
