package harvest

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// URLMode selects how link cells are normalized into fetchable URLs.
type URLMode string

// Supported URL modes.
const (
	// URLOrigin reduces links to scheme://host, defaulting to http.
	URLOrigin URLMode = "origin"
	// URLFull keeps the full link, defaulting to https.
	URLFull URLMode = "full"
)

// Columns names the header cells a profile works with. Name is optional and
// falls back to the first column; Fallback defaults to Link.
type Columns struct {
	Link     string `mapstructure:"link"`
	Email    string `mapstructure:"email"`
	Name     string `mapstructure:"name"`
	Fallback string `mapstructure:"fallback"`
}

// ColumnMap resolves header names to zero-based offsets. It is built once
// per run from the header row and shared with the writer.
type ColumnMap struct {
	Headers  map[string]int
	Link     int
	Email    int
	Name     int
	Fallback int
}

// Lookup finds a header by trimmed, case-insensitive name.
func (m ColumnMap) Lookup(name string) (int, bool) {
	name = strings.TrimSpace(name)
	if idx, ok := m.Headers[strings.ToLower(name)]; ok {
		return idx, true
	}
	return -1, false
}

// BuildColumnMap resolves cols against header. Link and Email are required.
func BuildColumnMap(header []string, cols Columns) (ColumnMap, error) {
	m := ColumnMap{Headers: make(map[string]int, len(header))}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if key == "" {
			continue
		}
		// First occurrence wins for duplicated headers.
		if _, dup := m.Headers[key]; !dup {
			m.Headers[key] = i
		}
	}

	var ok bool
	if m.Link, ok = m.Lookup(cols.Link); !ok {
		return ColumnMap{}, configError("columns.link", "column %q not found in header", cols.Link)
	}
	if m.Email, ok = m.Lookup(cols.Email); !ok {
		return ColumnMap{}, configError("columns.email", "column %q not found in header", cols.Email)
	}
	m.Name = 0
	if strings.TrimSpace(cols.Name) != "" {
		if m.Name, ok = m.Lookup(cols.Name); !ok {
			return ColumnMap{}, configError("columns.name", "column %q not found in header", cols.Name)
		}
	}
	m.Fallback = m.Link
	if strings.TrimSpace(cols.Fallback) != "" {
		if m.Fallback, ok = m.Lookup(cols.Fallback); !ok {
			return ColumnMap{}, configError("columns.fallback", "column %q not found in header", cols.Fallback)
		}
	}
	return m, nil
}

// NormalizeURL turns a link cell into a fetchable URL according to mode.
func NormalizeURL(raw string, mode URLMode) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty url")
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if mode == URLOrigin {
			raw = "http://" + raw
		} else {
			raw = "https://" + raw
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Host == "" || strings.ContainsAny(u.Host, " \t") {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	if mode == URLOrigin {
		return fmt.Sprintf("%s://%s", strings.ToLower(u.Scheme), u.Host), nil
	}
	return u.String(), nil
}

// LoadTargets reads rng in a single call and returns one Target per data row
// with a non-empty link. Row 1 is the header.
func LoadTargets(ctx context.Context, store Store, rng string, cols Columns, mode URLMode, logger *zap.Logger) ([]Target, ColumnMap, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rows, err := store.Read(ctx, rng)
	if err != nil {
		return nil, ColumnMap{}, fmt.Errorf("read %s: %w", rng, err)
	}
	if len(rows) == 0 {
		return nil, ColumnMap{}, configError("range", "%s returned no rows", rng)
	}
	colMap, err := BuildColumnMap(rows[0], cols)
	if err != nil {
		return nil, ColumnMap{}, err
	}

	startRow := 1
	if parsed, perr := ParseRange(rng); perr == nil {
		startRow = parsed.StartRow
	}

	targets := make([]Target, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rowNum := startRow + i + 1
		link := strings.TrimSpace(cell(row, colMap.Link))
		if link == "" {
			continue
		}
		normalized, err := NormalizeURL(link, mode)
		if err != nil {
			logger.Warn("Skipping row with invalid link",
				zap.Int("row", rowNum), zap.String("link", link), zap.Error(err))
			continue
		}
		targets = append(targets, Target{
			Row:           rowNum,
			URL:           normalized,
			DisplayName:   strings.TrimSpace(cell(row, colMap.Name)),
			FallbackValue: cell(row, colMap.Fallback),
		})
	}
	logger.Info("Loaded targets", zap.String("range", rng), zap.Int("rows", len(rows)-1), zap.Int("targets", len(targets)))
	return targets, colMap, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
