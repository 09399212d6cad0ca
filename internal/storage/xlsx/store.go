// Package xlsx implements the tabular store over a local Excel workbook so a
// roster can be harvested offline without Sheets credentials.
package xlsx

import (
	"context"
	"fmt"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

// Store reads and writes one workbook. Every write is saved to disk before
// the call returns.
type Store struct {
	mu   sync.Mutex
	path string
	file *excelize.File
}

// Open loads the workbook at path.
func Open(path string) (*Store, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	return &Store{path: path, file: f}, nil
}

// Path returns the workbook location.
func (s *Store) Path() string {
	return s.path
}

// Read returns the values inside rng.
func (s *Store) Read(_ context.Context, rng string) ([][]string, error) {
	parsed, err := harvest.ParseRange(rng)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.file.GetRows(parsed.Sheet)
	if err != nil {
		return nil, fmt.Errorf("xlsx read %s: %w", rng, err)
	}
	return parsed.Slice(rows), nil
}

// UpdateRange writes values with their top-left corner at the start of rng.
func (s *Store) UpdateRange(_ context.Context, rng string, values [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.apply(rng, values); err != nil {
		return err
	}
	return s.save()
}

// BatchUpdate applies every range and saves once.
func (s *Store) BatchUpdate(_ context.Context, ranges []harvest.ValueRange) error {
	if len(ranges) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range ranges {
		if err := s.apply(r.Range, r.Values); err != nil {
			return err
		}
	}
	return s.save()
}

// ReplaceSheet drops title if present and recreates it holding values.
func (s *Store) ReplaceSheet(_ context.Context, title string, values [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.file.GetSheetIndex(title)
	if err != nil {
		return fmt.Errorf("xlsx lookup sheet %q: %w", title, err)
	}
	if idx >= 0 {
		if err := s.file.DeleteSheet(title); err != nil {
			return fmt.Errorf("xlsx delete sheet %q: %w", title, err)
		}
	}
	if _, err := s.file.NewSheet(title); err != nil {
		return fmt.Errorf("xlsx add sheet %q: %w", title, err)
	}
	if err := s.write(title, 0, 1, values); err != nil {
		return err
	}
	return s.save()
}

// Close releases the workbook.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

func (s *Store) apply(rng string, values [][]string) error {
	parsed, err := harvest.ParseRange(rng)
	if err != nil {
		return err
	}
	idx, err := s.file.GetSheetIndex(parsed.Sheet)
	if err != nil || idx < 0 {
		return fmt.Errorf("sheet %q not found", parsed.Sheet)
	}
	return s.write(parsed.Sheet, parsed.StartCol, parsed.StartRow, values)
}

func (s *Store) write(sheet string, col, row int, values [][]string) error {
	for i, cells := range values {
		for j, v := range cells {
			name, err := excelize.CoordinatesToCellName(col+j+1, row+i)
			if err != nil {
				return fmt.Errorf("xlsx cell name: %w", err)
			}
			if err := s.file.SetCellValue(sheet, name, v); err != nil {
				return fmt.Errorf("xlsx set %s!%s: %w", sheet, name, err)
			}
		}
	}
	return nil
}

func (s *Store) save() error {
	if err := s.file.SaveAs(s.path); err != nil {
		return fmt.Errorf("save workbook %s: %w", s.path, err)
	}
	return nil
}
