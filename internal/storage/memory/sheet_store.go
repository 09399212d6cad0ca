package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// SheetStore is an in-memory workbook for development runs and tests.
type SheetStore struct {
	mu     sync.RWMutex
	sheets map[string][][]string
}

// NewSheetStore constructs an empty SheetStore.
func NewSheetStore() *SheetStore {
	return &SheetStore{sheets: make(map[string][][]string)}
}

// SetSheet replaces the contents of title with a copy of rows.
func (s *SheetStore) SetSheet(title string, rows [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheets[title] = copyGrid(rows)
}

// Sheet returns a copy of the full grid of title.
func (s *SheetStore) Sheet(title string) ([][]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	grid, ok := s.sheets[title]
	if !ok {
		return nil, false
	}
	return copyGrid(grid), true
}

// Read returns the values inside rng.
func (s *SheetStore) Read(_ context.Context, rng string) ([][]string, error) {
	parsed, err := harvest.ParseRange(rng)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	grid, ok := s.sheets[parsed.Sheet]
	if !ok {
		return nil, fmt.Errorf("sheet %q not found", parsed.Sheet)
	}
	return parsed.Slice(grid), nil
}

// UpdateRange writes values with their top-left corner at the start of rng.
func (s *SheetStore) UpdateRange(_ context.Context, rng string, values [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(rng, values)
}

// BatchUpdate applies every range in order under one lock.
func (s *SheetStore) BatchUpdate(_ context.Context, ranges []harvest.ValueRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range ranges {
		if err := s.apply(r.Range, r.Values); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceSheet drops title if present and recreates it holding values.
func (s *SheetStore) ReplaceSheet(_ context.Context, title string, values [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sheets[title] = copyGrid(values)
	return nil
}

func (s *SheetStore) apply(rng string, values [][]string) error {
	parsed, err := harvest.ParseRange(rng)
	if err != nil {
		return err
	}
	grid, ok := s.sheets[parsed.Sheet]
	if !ok {
		return fmt.Errorf("sheet %q not found", parsed.Sheet)
	}
	for i, row := range values {
		r := parsed.StartRow - 1 + i
		for len(grid) <= r {
			grid = append(grid, nil)
		}
		for j, v := range row {
			c := parsed.StartCol + j
			for len(grid[r]) <= c {
				grid[r] = append(grid[r], "")
			}
			grid[r][c] = v
		}
	}
	s.sheets[parsed.Sheet] = grid
	return nil
}

func copyGrid(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}
