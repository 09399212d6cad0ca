package harvest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// gridStore is an in-memory Store over a single sheet that applies writes
// to its grid and records every call.
type gridStore struct {
	mu      sync.Mutex
	grid    [][]string
	updates []ValueRange
	batches [][]ValueRange
	readErr error
	// failUpdates makes the first n UpdateRange calls fail.
	failUpdates int
	batchErr    error
}

func newGridStore(rows ...[]string) *gridStore {
	grid := make([][]string, len(rows))
	for i, r := range rows {
		grid[i] = append([]string(nil), r...)
	}
	return &gridStore{grid: grid}
}

func (s *gridStore) Read(_ context.Context, _ string) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	out := make([][]string, len(s.grid))
	for i, r := range s.grid {
		out[i] = append([]string(nil), r...)
	}
	return out, nil
}

func (s *gridStore) UpdateRange(_ context.Context, rng string, values [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates > 0 {
		s.failUpdates--
		return errors.New("quota exceeded")
	}
	s.updates = append(s.updates, ValueRange{Range: rng, Values: values})
	return s.apply(rng, values)
}

func (s *gridStore) BatchUpdate(_ context.Context, ranges []ValueRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]ValueRange(nil), ranges...))
	if s.batchErr != nil {
		return s.batchErr
	}
	for _, r := range ranges {
		if err := s.apply(r.Range, r.Values); err != nil {
			return err
		}
	}
	return nil
}

func (s *gridStore) apply(rng string, values [][]string) error {
	parsed, err := ParseRange(rng)
	if err != nil {
		return err
	}
	for i, row := range values {
		r := parsed.StartRow - 1 + i
		for len(s.grid) <= r {
			s.grid = append(s.grid, nil)
		}
		for j, v := range row {
			c := parsed.StartCol + j
			for len(s.grid[r]) <= c {
				s.grid[r] = append(s.grid[r], "")
			}
			s.grid[r][c] = v
		}
	}
	return nil
}

func (s *gridStore) snapshot() [][]string {
	rows, _ := s.Read(context.Background(), "")
	return rows
}

func (s *gridStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func (s *gridStore) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.batches))
	for i, b := range s.batches {
		sizes[i] = len(b)
	}
	return sizes
}

// fakeFetcher serves canned pages and tracks concurrency.
type fakeFetcher struct {
	pages map[string]string
	err   error
	delay time.Duration

	active  atomic.Int32
	maxSeen atomic.Int32
	calls   atomic.Int32

	mu      sync.Mutex
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	f.mu.Lock()
	f.fetched = append(f.fetched, url)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	page, ok := f.pages[url]
	if !ok {
		return "", errors.New("connection refused")
	}
	return page, nil
}

func (f *fakeFetcher) fetchedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

type recordingSink struct {
	mu    sync.Mutex
	dumps [][]ValueRange
	runID string
}

func (r *recordingSink) Dump(_ context.Context, runID string, ranges []ValueRange, _ error) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runID = runID
	r.dumps = append(r.dumps, ranges)
	return "memory://recovery", nil
}

func noDelay() []SchedulerOption {
	return []SchedulerOption{
		WithJitter(func(time.Duration, time.Duration) time.Duration { return 0 }),
	}
}
