// Package progress defines the event structures emitted by a crawl run and
// the hub that fans them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDiscovered Stage = "RUN_DISCOVERED"
	StageItemDone      Stage = "ITEM_DONE"
	StageRunDone       Stage = "RUN_DONE"
	StageRunError      Stage = "RUN_ERROR"
)

// Event captures a single milestone of crawler progress.
type Event struct {
	// RunID uniquely identifies a crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or item milestone occurred.
	Stage Stage
	// Entity is the entity name for item events.
	Entity string
	// Outcome classifies item completions (saved, skipped, failed).
	Outcome string
	// Completed counts attempted items so far; monotonic within a run.
	Completed int
	// Total is the deduplicated candidate count fixed at discovery.
	Total int
	// Dur captures execution latency for items and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDiscovered, StageRunDone, StageRunError:
	case StageItemDone:
		if e.Entity == "" {
			return errors.New("item done requires entity")
		}
		if e.Outcome == "" {
			return errors.New("item done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Completed < 0 || e.Total < 0 {
		return errors.New("counts must be >= 0")
	}
	if e.Total > 0 && e.Completed > e.Total {
		return errors.New("completed must not exceed total")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Percent converts completed/total into an integer percentage. It is zero
// before discovery fixes the total.
func (e Event) Percent() int {
	if e.Total <= 0 {
		return 0
	}
	return e.Completed * 100 / e.Total
}

// RunUUID converts the binary run ID to uuid.UUID for consumers.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
