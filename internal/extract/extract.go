// Package extract walks the data region of a decoded grid and emits one
// record per person.
package extract

import (
	"strings"

	"github.com/JonMunkholm/competency-import/internal/competency"
	"github.com/JonMunkholm/competency-import/internal/layout"
	"github.com/JonMunkholm/competency-import/internal/schema"
	"github.com/JonMunkholm/competency-import/internal/tabular"
)

// EmailPlaceholder marks a person without an address; the importer synthesizes one.
const EmailPlaceholder = "N/A"

// Certification is a value spread over three rows of a block record.
type Certification struct {
	IssuingBody       string `json:"issuingBody,omitempty"`
	CertificateNumber string `json:"certificateNumber,omitempty"`
	ExpiryDate        string `json:"expiryDate"`
}

// Field is one column of a record: either a scalar or a certification.
type Field struct {
	Column int            `json:"column"`
	Label  string         `json:"label"`
	Mapped bool           `json:"mapped"`
	Value  string         `json:"value,omitempty"`
	Cert   *Certification `json:"certification,omitempty"`
}

// Record is one person as read from the grid.
type Record struct {
	// RowIndex is the 1-based grid row holding the person's name.
	RowIndex int     `json:"rowIndex"`
	Name     string  `json:"name"`
	Email    string  `json:"email"`
	Fields   []Field `json:"fields"`
}

// Field returns the field labelled label.
func (r Record) Field(label string) (Field, bool) {
	for _, f := range r.Fields {
		if strings.EqualFold(f.Label, label) {
			return f, true
		}
	}
	return Field{}, false
}

// NeedsSyntheticEmail reports whether the email column held the placeholder.
func (r Record) NeedsSyntheticEmail() bool {
	return strings.EqualFold(strings.TrimSpace(r.Email), EmailPlaceholder)
}

// Stats counts what happened to the rows of the data region.
type Stats struct {
	Records int `json:"records"`
	// Skipped counts blank and marker rows.
	Skipped int `json:"skipped"`
	// Rejected counts named rows without a usable email.
	Rejected int `json:"rejected"`
}

// TypeLookup returns the declared field type of a canonical label, if known.
type TypeLookup func(label string) (competency.FieldType, bool)

// Extractor turns grid rows into records.
type Extractor struct {
	Table *schema.Table
	// Types is optional. When set, it drives certification detection.
	Types TypeLookup
}

// Extract reads every record in the data region of grid.
//
// An accepted record advances by the layout's stride. A skipped or rejected
// row advances by one, so a one-row separator between three-row blocks does
// not shift the records that follow.
func (x *Extractor) Extract(grid *tabular.Grid, l layout.Layout, cols schema.ColumnMap) ([]Record, Stats) {
	var (
		records []Record
		stats   Stats
	)

	nameCol := cols.Find(schema.LabelEmployeeName)
	if nameCol < 0 {
		nameCol = l.AnchorColumn
	}
	emailCol := cols.Find(schema.LabelEmail)
	stride := max(l.RowsPerRecord, 1)

	for r := l.DataStart; r < grid.Len(); {
		name := grid.Cell(r, nameCol)
		if name == "" || x.Table.IsExclusion(name) {
			stats.Skipped++
			r++
			continue
		}

		email := grid.Cell(r, emailCol)
		if !plausibleEmail(email) {
			stats.Rejected++
			r++
			continue
		}

		rec := Record{RowIndex: r + 1, Name: name, Email: email}
		for _, col := range cols {
			if col.Index == nameCol || col.Index == emailCol {
				continue
			}
			if f, ok := x.field(grid, r, stride, col); ok {
				rec.Fields = append(rec.Fields, f)
			}
		}
		records = append(records, rec)
		stats.Records++
		r += stride
	}
	return records, stats
}

func (x *Extractor) field(grid *tabular.Grid, r, stride int, col schema.Column) (Field, bool) {
	cells := Cells{Value: grid.Cell(r, col.Index)}
	if stride == 3 {
		cells.Number = grid.Cell(r+1, col.Index)
		cells.Expiry = grid.Cell(r+2, col.Index)
	}

	var (
		ft    competency.FieldType
		known bool
	)
	if x.Types != nil {
		ft, known = x.Types(col.Label)
	}

	f := Field{Column: col.Index, Label: col.Label, Mapped: col.Mapped}
	if IsIncompleteCertification(ft, known, stride, cells, x.Table.IsIssuer) {
		return Field{}, false
	}
	if IsComposite(ft, known, stride, cells, x.Table.IsIssuer) {
		f.Cert = &Certification{
			IssuingBody:       cells.Value,
			CertificateNumber: cells.Number,
			ExpiryDate:        cells.Expiry,
		}
		return f, true
	}
	if cells.Value == "" {
		return Field{}, false
	}
	f.Value = cells.Value
	return f, true
}

// Cells is one column of one record: the identity-row value and, for block
// records, the certificate-number and expiry rows beneath it.
type Cells struct {
	Value  string
	Number string
	Expiry string
}

// IsComposite decides whether a column of a record is a certification.
//
// It requires a three-row record with a non-empty expiry cell. A declared
// field type decides when known: only expiry_date columns are certifications.
// Without a declared type the identity-row cell must name a known issuer.
func IsComposite(ft competency.FieldType, known bool, rowsPerRecord int, cells Cells, isIssuer func(string) bool) bool {
	if rowsPerRecord != 3 || strings.TrimSpace(cells.Expiry) == "" {
		return false
	}
	return certificationColumn(ft, known, cells, isIssuer)
}

// IsIncompleteCertification reports a certification column of a three-row
// record whose expiry row is empty. Its identity-row cell holds the issuing
// body, not a value, so the column carries nothing to store.
func IsIncompleteCertification(ft competency.FieldType, known bool, rowsPerRecord int, cells Cells, isIssuer func(string) bool) bool {
	if rowsPerRecord != 3 || strings.TrimSpace(cells.Expiry) != "" {
		return false
	}
	return certificationColumn(ft, known, cells, isIssuer)
}

func certificationColumn(ft competency.FieldType, known bool, cells Cells, isIssuer func(string) bool) bool {
	if known {
		return ft == competency.FieldExpiryDate
	}
	return isIssuer != nil && isIssuer(cells.Value)
}

func plausibleEmail(s string) bool {
	return strings.Contains(s, "@") || strings.EqualFold(s, EmailPlaceholder)
}
