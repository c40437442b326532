// Package tabular reads delimited text and spreadsheet files into a raw grid of
// cells. It performs no interpretation of the content: spreadsheet dates stay
// as serial numbers and every cell is returned as the text the file holds.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format is the declared format of an input file.
type Format string

const (
	FormatDelimited   Format = "delimited-text"
	FormatSpreadsheet Format = "spreadsheet"
)

// ErrUnsupportedFormat is wrapped by FormatFromName for unknown extensions.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// FormatFromName picks a Format from a file extension.
func FormatFromName(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		return FormatDelimited, nil
	case ".xlsx", ".xlsm", ".xls":
		return FormatSpreadsheet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}
}

// DecodeError reports a file that could not be turned into a grid.
type DecodeError struct {
	Format Format
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrEmptyGrid is wrapped in a DecodeError when a file holds no rows.
var ErrEmptyGrid = errors.New("empty file")

// Grid is a rectangular, read-only table of raw cells.
type Grid struct {
	Rows     [][]string
	Format   Format
	Sheet    string // spreadsheet input only
	Encoding string // delimited input only
}

// Len returns the number of rows.
func (g *Grid) Len() int {
	return len(g.Rows)
}

// Width returns the number of columns.
func (g *Grid) Width() int {
	if len(g.Rows) == 0 {
		return 0
	}
	return len(g.Rows[0])
}

// Cell returns the trimmed cell at (row, col), or "" when out of range.
func (g *Grid) Cell(row, col int) string {
	if row < 0 || row >= len(g.Rows) || col < 0 || col >= len(g.Rows[row]) {
		return ""
	}
	return strings.TrimSpace(g.Rows[row][col])
}

// Row returns row i, or nil when out of range.
func (g *Grid) Row(i int) []string {
	if i < 0 || i >= len(g.Rows) {
		return nil
	}
	return g.Rows[i]
}

// Decode reads r fully and decodes it according to format.
func Decode(r io.Reader, format Format) (*Grid, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}
	return DecodeBytes(data, format)
}

// DecodeBytes decodes an in-memory file according to format.
func DecodeBytes(data []byte, format Format) (*Grid, error) {
	var (
		grid *Grid
		err  error
	)
	switch format {
	case FormatDelimited:
		grid, err = decodeDelimited(data)
	case FormatSpreadsheet:
		grid, err = decodeSpreadsheet(data)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}

	grid.Rows = padRows(trimTrailingEmpty(grid.Rows))
	if len(grid.Rows) == 0 {
		return nil, &DecodeError{Format: format, Err: ErrEmptyGrid}
	}
	return grid, nil
}

func decodeDelimited(data []byte) (*Grid, error) {
	text, enc, err := toUTF8(data)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(bytes.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return &Grid{Rows: rows, Format: FormatDelimited, Encoding: enc}, nil
}

func decodeSpreadsheet(data []byte) (*Grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	sheet := SelectSheet(sheets)

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return &Grid{Rows: rows, Format: FormatSpreadsheet, Sheet: sheet}, nil
}

// SelectSheet prefers the training/competency matrix sheet and falls back to
// the first sheet.
func SelectSheet(names []string) string {
	for _, name := range names {
		lower := strings.ToLower(name)
		if strings.Contains(lower, "training") && strings.Contains(lower, "com") {
			return name
		}
	}
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func trimTrailingEmpty(rows [][]string) [][]string {
	end := len(rows)
	for end > 0 && IsEmptyRow(rows[end-1]) {
		end--
	}
	return rows[:end]
}

func padRows(rows [][]string) [][]string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	for i, row := range rows {
		if len(row) < width {
			padded := make([]string, width)
			copy(padded, row)
			rows[i] = padded
		}
	}
	return rows
}

// IsEmptyRow reports whether every cell of row is blank.
func IsEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
