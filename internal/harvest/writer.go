package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FallbackPolicy decides what is written when no email was found.
type FallbackPolicy string

// Supported fallback policies.
const (
	// FallbackRestore writes the fallback value into the fallback column.
	FallbackRestore FallbackPolicy = "restore"
	// FallbackClear writes an empty string into the email column. An email
	// already in the sheet is overwritten when a page yields nothing, so
	// re-runs are not idempotent under this policy.
	FallbackClear FallbackPolicy = "clear"
)

// WriteMode selects the writer implementation.
type WriteMode string

// Supported write modes.
const (
	WriteImmediate WriteMode = "immediate"
	WriteBatched   WriteMode = "batched"
)

// Writer persists results. Commit may buffer; Flush must send everything
// still pending.
type Writer interface {
	Commit(ctx context.Context, res Result) error
	Flush(ctx context.Context) error
}

// Destination resolves the single cell a result is written to.
func Destination(sheet string, cols ColumnMap, policy FallbackPolicy, res Result) (string, string) {
	if res.Email != "" {
		return CellRange(sheet, cols.Email, res.Row), res.Email
	}
	if policy == FallbackClear {
		return CellRange(sheet, cols.Email, res.Row), ""
	}
	return CellRange(sheet, cols.Fallback, res.Row), res.Fallback
}

// ImmediateWriter issues one range update per result and retries a failed
// update once after a backoff.
type ImmediateWriter struct {
	store   Store
	sheet   string
	cols    ColumnMap
	policy  FallbackPolicy
	backoff time.Duration
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration)
}

// NewImmediateWriter builds an ImmediateWriter.
func NewImmediateWriter(store Store, sheet string, cols ColumnMap, policy FallbackPolicy, backoff time.Duration, logger *zap.Logger) *ImmediateWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImmediateWriter{
		store:   store,
		sheet:   sheet,
		cols:    cols,
		policy:  policy,
		backoff: backoff,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Commit writes res and waits for the store to acknowledge it.
func (w *ImmediateWriter) Commit(ctx context.Context, res Result) error {
	rng, value := Destination(w.sheet, w.cols, w.policy, res)
	values := [][]string{{value}}

	err := w.store.UpdateRange(ctx, rng, values)
	if err == nil {
		return nil
	}
	w.logger.Warn("Write failed, retrying", zap.String("range", rng), zap.Duration("backoff", w.backoff), zap.Error(err))
	if w.backoff > 0 {
		w.sleep(ctx, w.backoff)
	}
	if err = w.store.UpdateRange(ctx, rng, values); err != nil {
		return &WriteError{Range: rng, Rows: []int{res.Row}, Err: err}
	}
	return nil
}

// Flush is a no-op; every Commit is already persisted.
func (w *ImmediateWriter) Flush(context.Context) error {
	return nil
}

type pendingCell struct {
	row   int
	value ValueRange
}

// BatchWriter accumulates single-cell updates and sends them in one
// BatchUpdate call once size cells are pending.
type BatchWriter struct {
	store    Store
	sheet    string
	cols     ColumnMap
	policy   FallbackPolicy
	size     int
	runID    string
	recovery RecoverySink
	logger   *zap.Logger

	mu      sync.Mutex
	pending []pendingCell
}

// NewBatchWriter builds a BatchWriter. recovery may be nil.
func NewBatchWriter(store Store, sheet string, cols ColumnMap, policy FallbackPolicy, size int, runID string, recovery RecoverySink, logger *zap.Logger) *BatchWriter {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchWriter{
		store:    store,
		sheet:    sheet,
		cols:     cols,
		policy:   policy,
		size:     size,
		runID:    runID,
		recovery: recovery,
		logger:   logger,
	}
}

// Commit queues res and sends the batch when the threshold is reached. A
// failed batch is not retried; it goes to the recovery sink.
func (w *BatchWriter) Commit(ctx context.Context, res Result) error {
	rng, value := Destination(w.sheet, w.cols, w.policy, res)

	w.mu.Lock()
	w.pending = append(w.pending, pendingCell{
		row:   res.Row,
		value: ValueRange{Range: rng, Values: [][]string{{value}}},
	})
	var batch []pendingCell
	if len(w.pending) >= w.size {
		batch = w.pending
		w.pending = nil
	}
	w.mu.Unlock()

	if batch == nil {
		return nil
	}
	return w.send(ctx, batch)
}

// Flush sends whatever is pending, regardless of size.
func (w *BatchWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return w.send(ctx, batch)
}

// Pending reports the number of queued cells.
func (w *BatchWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *BatchWriter) send(ctx context.Context, batch []pendingCell) error {
	ranges := make([]ValueRange, len(batch))
	rows := make([]int, len(batch))
	for i, c := range batch {
		ranges[i] = c.value
		rows[i] = c.row
	}

	err := w.store.BatchUpdate(ctx, ranges)
	if err == nil {
		w.logger.Debug("Batch written", zap.Int("cells", len(ranges)))
		return nil
	}

	for _, r := range ranges {
		w.logger.Error("Unsaved cell",
			zap.String("run_id", w.runID), zap.String("range", r.Range), zap.String("value", r.Values[0][0]))
	}
	if w.recovery != nil {
		// The run may already be canceled; the dump must still land.
		path, derr := w.recovery.Dump(context.WithoutCancel(ctx), w.runID, ranges, err)
		if derr != nil {
			w.logger.Error("Recovery dump failed", zap.Error(derr))
		} else {
			w.logger.Warn("Batch saved for recovery", zap.String("path", path), zap.Int("cells", len(ranges)))
		}
	}
	return &WriteError{
		Range: fmt.Sprintf("batch of %d cells starting %s", len(ranges), ranges[0].Range),
		Rows:  rows,
		Err:   err,
	}
}
