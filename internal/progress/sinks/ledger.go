package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/contact-harvester/internal/progress"
	"github.com/JakeFAU/contact-harvester/internal/store"
)

// LedgerSink persists run lifecycle and target outcomes via a
// store.ResultLedger. Target events are written in one call per batch.
type LedgerSink struct {
	ledger store.ResultLedger
	logger *zap.Logger
}

// NewLedgerSink constructs a LedgerSink for the provided ledger.
func NewLedgerSink(ledger store.ResultLedger, logger *zap.Logger) *LedgerSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerSink{ledger: ledger, logger: logger}
}

// Consume applies events in order. Pending target rows are written before a
// run is completed so the totals and rows agree.
func (s *LedgerSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.ledger == nil {
		return nil
	}
	var pending []store.TargetRecord
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.ledger.RecordTargets(ctx, pending); err != nil {
			return fmt.Errorf("record targets: %w", err)
		}
		pending = pending[:0]
		return nil
	}

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.ledger.StartRun(ctx, runID, evt.Profile, evt.TS); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageTargetDone:
			pending = append(pending, store.TargetRecord{
				RunID:      runID,
				Row:        evt.Row,
				URL:        evt.URL,
				Site:       evt.Site,
				Name:       evt.Name,
				Email:      evt.Email,
				Strategy:   evt.Strategy,
				Outcome:    evt.Outcome,
				Note:       evt.Note,
				DurationMS: evt.Dur.Milliseconds(),
				RecordedAt: evt.TS,
			})
		case progress.StageRunDone, progress.StageRunError:
			if err := flush(); err != nil {
				return err
			}
			status := store.RunSuccess
			var note *string
			if evt.Stage == progress.StageRunError {
				status = store.RunError
				if evt.Note != "" {
					msg := evt.Note
					note = &msg
				}
			}
			if err := s.ledger.CompleteRun(ctx, runID, evt.TS, status, evt.Total, evt.Found, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		}
	}
	return flush()
}

// Close implements the Sink interface; the ledger is owned by the caller.
func (s *LedgerSink) Close(context.Context) error {
	return nil
}
