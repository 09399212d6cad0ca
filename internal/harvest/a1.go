package harvest

import (
	"fmt"
	"strconv"
	"strings"
)

// ColumnLetter converts a zero-based column offset into its A1 letters
// (0 -> A, 25 -> Z, 26 -> AA). Negative offsets yield an empty string.
func ColumnLetter(index int) string {
	if index < 0 {
		return ""
	}
	n := index + 1
	var buf [8]byte
	pos := len(buf)
	for n > 0 {
		rem := (n - 1) % 26
		pos--
		buf[pos] = byte('A' + rem)
		n = (n - rem - 1) / 26
	}
	return string(buf[pos:])
}

// ColumnIndex is the inverse of ColumnLetter. It returns -1 for input that
// is not made of letters.
func ColumnIndex(letters string) int {
	letters = strings.ToUpper(strings.TrimSpace(letters))
	if letters == "" {
		return -1
	}
	n := 0
	for _, r := range letters {
		if r < 'A' || r > 'Z' {
			return -1
		}
		n = n*26 + int(r-'A'+1)
	}
	return n - 1
}

// QuoteSheet wraps a sheet title in single quotes when A1 notation requires it.
func QuoteSheet(sheet string) string {
	if sheet == "" {
		return ""
	}
	simple := true
	for _, r := range sheet {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z') {
			simple = false
			break
		}
	}
	if simple {
		return sheet
	}
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

// CellRange addresses one cell, e.g. CellRange("Sheet1", 1, 5) == "Sheet1!B5".
func CellRange(sheet string, col, row int) string {
	return fmt.Sprintf("%s!%s%d", QuoteSheet(sheet), ColumnLetter(col), row)
}

// BlockRange addresses a rectangle from (firstCol, firstRow) to (lastCol, lastRow).
func BlockRange(sheet string, firstCol, firstRow, lastCol, lastRow int) string {
	return fmt.Sprintf("%s!%s%d:%s%d",
		QuoteSheet(sheet), ColumnLetter(firstCol), firstRow, ColumnLetter(lastCol), lastRow)
}

// Range is a parsed A1 range. Columns are zero-based, rows one-based. A zero
// EndRow or a negative EndCol means the range is open in that direction.
type Range struct {
	Sheet    string
	StartCol int
	StartRow int
	EndCol   int
	EndRow   int
}

// ParseRange parses "Sheet1", "Sheet1!B5", "Sheet1!A1:Z9999" and quoted
// titles such as "'Emails Only'!A1".
func ParseRange(spec string) (Range, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Range{}, fmt.Errorf("empty range")
	}
	sheet, cells := spec, ""
	if strings.HasPrefix(spec, "'") {
		end := strings.LastIndex(spec, "'!")
		switch {
		case end > 0:
			sheet, cells = spec[1:end], spec[end+2:]
		case strings.HasSuffix(spec, "'") && len(spec) > 1:
			sheet = spec[1 : len(spec)-1]
		default:
			return Range{}, fmt.Errorf("unterminated sheet quote in %q", spec)
		}
		sheet = strings.ReplaceAll(sheet, "''", "'")
	} else if idx := strings.LastIndex(spec, "!"); idx >= 0 {
		sheet, cells = spec[:idx], spec[idx+1:]
	}
	if sheet == "" {
		return Range{}, fmt.Errorf("missing sheet name in %q", spec)
	}

	out := Range{Sheet: sheet, StartRow: 1, EndCol: -1}
	if cells == "" {
		return out, nil
	}
	first, last, hasLast := strings.Cut(cells, ":")
	col, row, err := parseCell(first)
	if err != nil {
		return Range{}, fmt.Errorf("parse range %q: %w", spec, err)
	}
	out.StartCol, out.StartRow = col, row
	if out.StartRow == 0 {
		out.StartRow = 1
	}
	if !hasLast {
		out.EndCol, out.EndRow = col, row
		return out, nil
	}
	col, row, err = parseCell(last)
	if err != nil {
		return Range{}, fmt.Errorf("parse range %q: %w", spec, err)
	}
	out.EndCol, out.EndRow = col, row
	return out, nil
}

func parseCell(cell string) (int, int, error) {
	cell = strings.ToUpper(strings.TrimSpace(cell))
	split := strings.IndexFunc(cell, func(r rune) bool { return r >= '0' && r <= '9' })
	letters, digits := cell, ""
	if split >= 0 {
		letters, digits = cell[:split], cell[split:]
	}
	col := ColumnIndex(letters)
	if col < 0 {
		return 0, 0, fmt.Errorf("invalid column in cell %q", cell)
	}
	row := 0
	if digits != "" {
		n, err := strconv.Atoi(digits)
		if err != nil || n <= 0 {
			return 0, 0, fmt.Errorf("invalid row in cell %q", cell)
		}
		row = n
	}
	return col, row, nil
}

// Slice cuts the range out of a full sheet grid the way the Sheets API
// reports values: trailing empty cells and trailing empty rows are dropped.
func (r Range) Slice(grid [][]string) [][]string {
	last := len(grid)
	if r.EndRow > 0 && r.EndRow < last {
		last = r.EndRow
	}
	var out [][]string
	for i := r.StartRow - 1; i < last; i++ {
		row := grid[i]
		end := len(row)
		if r.EndCol >= 0 && r.EndCol+1 < end {
			end = r.EndCol + 1
		}
		var cells []string
		if r.StartCol < end {
			cells = append(cells, row[r.StartCol:end]...)
		}
		for len(cells) > 0 && cells[len(cells)-1] == "" {
			cells = cells[:len(cells)-1]
		}
		out = append(out, cells)
	}
	for len(out) > 0 && len(out[len(out)-1]) == 0 {
		out = out[:len(out)-1]
	}
	return out
}
