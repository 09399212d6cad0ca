package harvest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testColumns = ColumnMap{Link: 1, Email: 2, Name: 0, Fallback: 3}

func TestDestination(t *testing.T) {
	t.Parallel()

	rng, v := Destination("Sheet1", testColumns, FallbackRestore, Result{Row: 7, Email: "a@x.com"})
	require.Equal(t, "Sheet1!C7", rng)
	require.Equal(t, "a@x.com", v)

	rng, v = Destination("Sheet1", testColumns, FallbackRestore, Result{Row: 7, Fallback: "https://fb.com/acme"})
	require.Equal(t, "Sheet1!D7", rng)
	require.Equal(t, "https://fb.com/acme", v)

	rng, v = Destination("Sheet1", testColumns, FallbackClear, Result{Row: 7, Fallback: "https://fb.com/acme"})
	require.Equal(t, "Sheet1!C7", rng)
	require.Empty(t, v)
}

func TestBatchWriterDrainsAtThresholdAndOnFlush(t *testing.T) {
	t.Parallel()

	store := newGridStore()
	w := NewBatchWriter(store, "Sheet1", testColumns, FallbackRestore, 10, "run", nil, nil)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		require.NoError(t, w.Commit(ctx, Result{Row: i + 2, Email: fmt.Sprintf("u%d@x.com", i)}))
	}
	require.Equal(t, []int{10, 10}, store.batchSizes())
	require.Equal(t, 5, w.Pending())

	require.NoError(t, w.Flush(ctx))
	require.Equal(t, []int{10, 10, 5}, store.batchSizes())
	require.Equal(t, 0, w.Pending())

	require.NoError(t, w.Flush(ctx))
	require.Len(t, store.batchSizes(), 3, "empty flush must not call the store")
}

func TestBatchWriterFailureDumpsBatch(t *testing.T) {
	t.Parallel()

	store := newGridStore()
	store.batchErr = errors.New("429 rate limited")
	sink := &recordingSink{}
	w := NewBatchWriter(store, "Sheet1", testColumns, FallbackRestore, 2, "run-7", sink, nil)
	ctx := context.Background()

	require.NoError(t, w.Commit(ctx, Result{Row: 2, Email: "a@x.com"}))
	err := w.Commit(ctx, Result{Row: 3, Fallback: "https://fb.com/b"})
	require.Error(t, err)

	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	require.Equal(t, []int{2, 3}, werr.Rows)
	require.ErrorContains(t, err, "429")
	require.Equal(t, []int{2}, store.batchSizes())

	require.Equal(t, "run-7", sink.runID)
	require.Len(t, sink.dumps, 1)
	require.Equal(t, []ValueRange{
		{Range: "Sheet1!C2", Values: [][]string{{"a@x.com"}}},
		{Range: "Sheet1!D3", Values: [][]string{{"https://fb.com/b"}}},
	}, sink.dumps[0])
}

func TestImmediateWriterRetriesOnce(t *testing.T) {
	t.Parallel()

	store := newGridStore()
	store.failUpdates = 1
	w := NewImmediateWriter(store, "Sheet1", testColumns, FallbackRestore, time.Second, nil)
	var slept []time.Duration
	w.sleep = func(_ context.Context, d time.Duration) { slept = append(slept, d) }

	require.NoError(t, w.Commit(context.Background(), Result{Row: 4, Email: "a@x.com"}))
	require.Equal(t, []time.Duration{time.Second}, slept)
	require.Equal(t, 1, store.updateCount())
	require.NoError(t, w.Flush(context.Background()))
}

func TestImmediateWriterGivesUpAfterRetry(t *testing.T) {
	t.Parallel()

	store := newGridStore()
	store.failUpdates = 2
	w := NewImmediateWriter(store, "Sheet1", testColumns, FallbackRestore, 0, nil)

	err := w.Commit(context.Background(), Result{Row: 4, Email: "a@x.com"})
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	require.Equal(t, "Sheet1!C4", werr.Range)
	require.Equal(t, []int{4}, werr.Rows)
	require.Equal(t, 0, store.updateCount())
}
