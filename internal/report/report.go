// Package report renders the failed records of an import as a workbook.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/competency-import/internal/core"
)

// SheetName is the name of the error sheet.
const SheetName = "Import Errors"

var header = []any{"Row", "Person", "Message"}

// WriteErrors writes res.Errors as an XLSX workbook to w. A summary of the run
// follows the error rows.
func WriteErrors(w io.Writer, res core.ImportResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"D9E1F2"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetCellStyle(SheetName, "A1", "C1", headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, e := range res.Errors {
		row := []any{e.RowIndex, e.PersonLabel, e.Message}
		if err := f.SetSheetRow(SheetName, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return fmt.Errorf("write row %d: %w", e.RowIndex, err)
		}
	}

	summary := len(res.Errors) + 3
	lines := [][]any{
		{"File", res.FileName},
		{"Imported", res.SuccessCount},
		{"Failed", len(res.Errors)},
		{"Total", res.Total},
	}
	if res.Cancelled {
		lines = append(lines, []any{"Cancelled", "yes"})
	}
	for i, l := range lines {
		if err := f.SetSheetRow(SheetName, fmt.Sprintf("A%d", summary+i), &l); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 8)
	_ = f.SetColWidth(SheetName, "B", "B", 28)
	_ = f.SetColWidth(SheetName, "C", "C", 80)
	if err := f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
