package harvest

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultFilterSheet is the sheet the email filter recreates.
const DefaultFilterSheet = "Emails Only"

// FilterConfig describes the email filter job.
type FilterConfig struct {
	SourceRange string
	EmailColumn string
	TargetSheet string
}

// FilterSummary reports what the filter copied.
type FilterSummary struct {
	Scanned int `json:"scanned"`
	Copied  int `json:"copied"`
}

// FilterRows returns the header plus every data row whose email cell is
// non-empty after trimming. Rows are padded to the header width.
func FilterRows(rows [][]string, emailCol int) [][]string {
	if len(rows) == 0 {
		return nil
	}
	width := len(rows[0])
	out := [][]string{padRow(rows[0], width)}
	for _, row := range rows[1:] {
		if strings.TrimSpace(cell(row, emailCol)) == "" {
			continue
		}
		out = append(out, padRow(row, width))
	}
	return out
}

func padRow(row []string, width int) []string {
	if len(row) >= width {
		return append([]string(nil), row...)
	}
	padded := make([]string, width)
	copy(padded, row)
	return padded
}

// RunFilter copies rows with an email into a freshly recreated sheet.
func RunFilter(ctx context.Context, store Store, admin SheetAdmin, cfg FilterConfig, logger *zap.Logger) (FilterSummary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if admin == nil {
		return FilterSummary{}, configError("store", "backend cannot recreate sheets")
	}
	if strings.TrimSpace(cfg.SourceRange) == "" {
		return FilterSummary{}, configError("source_range", "source range is required")
	}
	target := cfg.TargetSheet
	if strings.TrimSpace(target) == "" {
		target = DefaultFilterSheet
	}

	rows, err := store.Read(ctx, cfg.SourceRange)
	if err != nil {
		return FilterSummary{}, fmt.Errorf("read %s: %w", cfg.SourceRange, err)
	}
	if len(rows) == 0 {
		return FilterSummary{}, configError("source_range", "%s returned no rows", cfg.SourceRange)
	}
	cols := ColumnMap{Headers: map[string]int{}}
	for i, h := range rows[0] {
		if key := strings.ToLower(strings.TrimSpace(h)); key != "" {
			if _, dup := cols.Headers[key]; !dup {
				cols.Headers[key] = i
			}
		}
	}
	emailCol, ok := cols.Lookup(cfg.EmailColumn)
	if !ok {
		return FilterSummary{}, configError("columns.email", "column %q not found in header", cfg.EmailColumn)
	}

	filtered := FilterRows(rows, emailCol)
	if err := admin.ReplaceSheet(ctx, target, filtered); err != nil {
		return FilterSummary{}, fmt.Errorf("replace sheet %q: %w", target, err)
	}
	summary := FilterSummary{Scanned: len(rows) - 1, Copied: len(filtered) - 1}
	logger.Info("Email filter finished",
		zap.String("sheet", target), zap.Int("scanned", summary.Scanned), zap.Int("copied", summary.Copied))
	return summary, nil
}
