package schema

import (
	"strconv"
	"strings"
)

// pinned labels are forced onto the first three columns from the anchor on,
// whatever the export's headers say.
var pinned = []string{LabelEmployeeName, LabelJobPosition, LabelStartDate}

// Column is one resolved header.
type Column struct {
	Index int    `json:"index"`
	Raw   string `json:"raw,omitempty"`
	Label string `json:"label"`
	// Mapped is true when Label is canonical (pinned or found in the table).
	Mapped bool `json:"mapped"`
}

// ColumnMap holds one Column per grid column, in order.
type ColumnMap []Column

// Label returns the label of column i, or "" when out of range.
func (m ColumnMap) Label(i int) string {
	if i < 0 || i >= len(m) {
		return ""
	}
	return m[i].Label
}

// Find returns the index of the first column labelled label, or -1.
func (m ColumnMap) Find(label string) int {
	for _, c := range m {
		if c.Mapped && strings.EqualFold(c.Label, label) {
			return c.Index
		}
	}
	return -1
}

// Resolve merges two header rows into a ColumnMap of width columns. Columns
// anchor, anchor+1 and anchor+2 are pinned to the identity labels. Headers
// missing from the table pass through as written; blank headers get a
// Column_<n> placeholder, n being the 1-based column number.
func (t *Table) Resolve(row1, row2 []string, width, anchor int) ColumnMap {
	m := make(ColumnMap, width)
	for i := 0; i < width; i++ {
		raw := cell(row1, i)
		if raw == "" {
			raw = cell(row2, i)
		}

		col := Column{Index: i, Raw: raw}
		switch {
		case i >= anchor && i-anchor < len(pinned):
			col.Label, col.Mapped = pinned[i-anchor], true
		case raw == "":
			col.Label = "Column_" + strconv.Itoa(i+1)
		default:
			if canonical, ok := t.Canonical(raw); ok {
				col.Label, col.Mapped = canonical, true
			} else {
				col.Label = raw
			}
		}
		m[i] = col
	}
	return m
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
