package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("ledger record not found")

// RunStatus mirrors the harvest_runs status column.
type RunStatus string

// Run statuses persisted in harvest_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one harvest run.
type Run struct {
	ID         uuid.UUID
	Profile    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Total      int
	Found      int
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// TargetRecord is the ledger copy of one target outcome.
type TargetRecord struct {
	RunID      uuid.UUID
	Row        int
	URL        string
	Site       string
	Name       string
	Email      string
	Strategy   string
	Outcome    string
	Note       string
	DurationMS int64
	RecordedAt time.Time
}

// ResultLedger persists run lifecycle and per-target outcomes so results
// survive even when the spreadsheet write fails.
type ResultLedger interface {
	// StartRun inserts (or idempotently updates) the run row.
	StartRun(ctx context.Context, runID uuid.UUID, profile string, startedAt time.Time) error
	// CompleteRun marks the run finished with totals and an optional error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, total, found int, errMsg *string) error
	// RecordTargets upserts target outcomes keyed by (run, row).
	RecordTargets(ctx context.Context, records []TargetRecord) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListTargets returns recorded outcomes for one run ordered by row.
	ListTargets(ctx context.Context, runID uuid.UUID, limit, offset int) ([]TargetRecord, error)
}
