// Package harvest runs the concurrent fetch, extract and write-back pipeline
// that fills a roster spreadsheet with contact emails.
package harvest

import (
	"context"
	"time"

	"github.com/JakeFAU/contact-harvester/internal/extract"
)

// Target is one row's unit of scrape work. Row is the 1-based row in the
// store and is the only address used when writing the outcome back.
type Target struct {
	Row           int
	URL           string
	DisplayName   string
	FallbackValue string
}

// Stage is a point in a target's lifecycle.
type Stage string

// Target lifecycle stages.
const (
	StageLoaded    Stage = "loaded"
	StageFetching  Stage = "fetching"
	StageExtracted Stage = "extracted"
	StageWritten   Stage = "written"
	StageDone      Stage = "done"
)

// Outcome summarizes what happened to a single target.
type Outcome string

// Per-target outcomes reported in logs and progress events.
const (
	OutcomeFound      Outcome = "found"
	OutcomeNotFound   Outcome = "not_found"
	OutcomeFetchError Outcome = "fetch_error"
	OutcomeWriteError Outcome = "write_error"
)

// Result is the outcome of processing one Target. Email is empty when no
// address was found; Fallback is then written instead, depending on policy.
type Result struct {
	Row         int
	URL         string
	DisplayName string
	Email       string
	Strategy    extract.Name
	Fallback    string
	Outcome     Outcome
	FailedStage Stage
	Err         error
	Duration    time.Duration
}

// ValueRange pairs an A1 range with the values to place there.
type ValueRange struct {
	Range  string
	Values [][]string
}

// Store is the remote tabular backend; reads and writes are addressed in A1
// notation.
type Store interface {
	Read(ctx context.Context, rng string) ([][]string, error)
	UpdateRange(ctx context.Context, rng string, values [][]string) error
	BatchUpdate(ctx context.Context, ranges []ValueRange) error
}

// SheetAdmin is implemented by stores that can drop and recreate whole sheets.
type SheetAdmin interface {
	ReplaceSheet(ctx context.Context, title string, values [][]string) error
}

// PageFetcher loads a URL and returns the serialized document.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// RecoverySink receives batches that could not be written so they can be
// replayed by hand.
type RecoverySink interface {
	Dump(ctx context.Context, runID string, ranges []ValueRange, cause error) (string, error)
}

// Summary is returned at the end of a run.
type Summary struct {
	RunID       string        `json:"run_id"`
	Total       int           `json:"total"`
	Found       int           `json:"found"`
	NotFound    int           `json:"not_found"`
	FetchFailed int           `json:"fetch_failed"`
	WriteFailed int           `json:"write_failed"`
	Duration    time.Duration `json:"duration"`
}

func (s *Summary) record(res Result) {
	s.Total++
	switch res.Outcome {
	case OutcomeFound:
		s.Found++
	case OutcomeNotFound:
		s.NotFound++
	case OutcomeFetchError:
		s.FetchFailed++
	case OutcomeWriteError:
		s.WriteFailed++
	}
}

// Succeeded counts targets whose outcome reached the store.
func (s Summary) Succeeded() int {
	return s.Found + s.NotFound + s.FetchFailed
}
