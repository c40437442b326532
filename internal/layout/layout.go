// Package layout finds the header rows and record stride of a competency
// matrix grid.
package layout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/competency-import/internal/tabular"
)

// Kind tags the two supported layouts.
type Kind string

const (
	// Flat has one row per person.
	Flat Kind = "flat"
	// Block has three rows per person: identity/issuing body, certificate number, expiry date.
	Block Kind = "block"
	// Auto chooses Block for spreadsheets and Flat for delimited text.
	Auto Kind = "auto"
)

// ErrUnknownLayout is returned by ParseKind for names other than flat, block or auto.
var ErrUnknownLayout = errors.New("unknown layout")

// ParseKind reads a layout name. Empty means Auto.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return Auto, nil
	case Flat, Block, Auto:
		return k, nil
	default:
		return "", fmt.Errorf("%w %q (want flat, block or auto)", ErrUnknownLayout, s)
	}
}

// AnchorLabel is the identity column header that marks the header region.
const AnchorLabel = "Employee Name"

// MaxScanRows bounds the search for the anchor.
const MaxScanRows = 10

// Layout describes where headers and data live in a grid. Indexes are 0-based.
type Layout struct {
	Kind          Kind `json:"kind"`
	AnchorRow     int  `json:"anchorRow"`
	AnchorColumn  int  `json:"anchorColumn"`
	HeaderRow1    int  `json:"headerRow1"`
	HeaderRow2    int  `json:"headerRow2"`
	DataStart     int  `json:"dataStart"`
	RowsPerRecord int  `json:"rowsPerRecord"`
}

// DetectionError is returned when no anchor appears in the scanned rows.
type DetectionError struct {
	Anchor  string
	Scanned int
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("layout detection: %q not found in first %d rows", e.Anchor, e.Scanned)
}

// Detect scans the top of grid for the anchor and derives the layout.
// kind selects the variant; Auto derives it from the grid's format.
func Detect(grid *tabular.Grid, kind Kind) (Layout, error) {
	if kind == "" || kind == Auto {
		kind = Flat
		if grid.Format == tabular.FormatSpreadsheet {
			kind = Block
		}
	}

	limit := min(MaxScanRows, grid.Len())
	for r := 0; r < limit; r++ {
		for c, cell := range grid.Row(r) {
			if !strings.EqualFold(strings.TrimSpace(cell), AnchorLabel) {
				continue
			}
			return build(grid, kind, r, c), nil
		}
	}
	return Layout{}, &DetectionError{Anchor: AnchorLabel, Scanned: limit}
}

func build(grid *tabular.Grid, kind Kind, anchor, col int) Layout {
	l := Layout{Kind: kind, AnchorRow: anchor, AnchorColumn: col}
	switch kind {
	case Block:
		// Two header rows end at the anchor; the row after it carries the
		// issuing body / certificate / expiry sub-headers.
		l.HeaderRow1 = max(anchor-1, 0)
		l.HeaderRow2 = anchor
		l.DataStart = anchor + 2
		l.RowsPerRecord = 3
	default:
		l.HeaderRow1 = anchor
		l.HeaderRow2 = anchor + 1
		l.DataStart = anchor + 2
		l.RowsPerRecord = 1
		// Header rows never hold an email address or its placeholder. When
		// the row under the anchor does, the export has a single header row.
		if holdsEmail(grid.Row(anchor + 1)) {
			l.HeaderRow2 = anchor
			l.DataStart = anchor + 1
		}
	}
	return l
}

func holdsEmail(row []string) bool {
	for _, cell := range row {
		if strings.Contains(cell, "@") || strings.EqualFold(strings.TrimSpace(cell), "N/A") {
			return true
		}
	}
	return false
}
