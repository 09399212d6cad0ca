// Package progress defines the event structures emitted by harvest runs.
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
	StageRunStart   Stage = "RUN_START"
	StageTargetDone Stage = "TARGET_DONE"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
)

// Event captures a single milestone of a harvest run.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Profile names the harvest profile (website, social).
	Profile string
	// Row is the 1-based spreadsheet row for target events.
	Row int
	// URL is the target URL; it should not contain credentials.
	URL string
	// Site is the lowercase host of URL.
	Site string
	// Name is the roster display name, if any.
	Name string
	// Email is the extracted address; empty when none was found.
	Email string
	// Strategy names the extraction strategy that matched.
	Strategy string
	// Outcome is found, not_found, fetch_error or write_error.
	Outcome string
	// Total and Found carry run totals on RUN_DONE.
	Total int
	Found int
	// Dur captures per-target latency or whole-run wall time.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
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
	case StageRunStart, StageRunDone, StageRunError:
	case StageTargetDone:
		if e.Row <= 0 {
			return errors.New("target done requires row")
		}
		if e.Outcome == "" {
			return errors.New("target done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
