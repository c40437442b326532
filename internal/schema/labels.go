// Package schema holds the label-mapping table for competency matrix exports
// and resolves raw header rows into canonical column labels.
//
// The table lives in a versioned YAML file so new spreadsheet variants can be
// supported without a code change. An embedded default is used when no path
// is configured.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

// Canonical identity labels.
const (
	LabelEmployeeName = "Employee Name"
	LabelJobPosition  = "Job Position"
	LabelStartDate    = "Start Date"
	LabelEmail        = "Email"
)

// SupportedVersion is the only label file version this build reads.
const SupportedVersion = 1

//go:embed labels.yaml
var defaultLabels []byte

// ErrLabelMapNotFound is returned when a configured label file does not exist.
var ErrLabelMapNotFound = errors.New("label map not found")

type labelFile struct {
	Version    int               `yaml:"version"`
	Labels     map[string]string `yaml:"labels"`
	Exclusions []string          `yaml:"exclusions"`
	Issuers    []string          `yaml:"issuers"`
}

// Table is a parsed label file. It is read-only after loading.
type Table struct {
	Version    int
	labels     map[string]string
	exclusions []string
	issuers    []string
}

// key folds case and collapses whitespace so "E-Mail  address" and
// "e-mail address" match.
func key(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), ":*")
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}

// Load reads the label file at path. An empty path selects the embedded default.
func Load(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultLabels)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrLabelMapNotFound, path)
		}
		return nil, err
	}
	t, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("label map %s: %w", path, err)
	}
	return t, nil
}

// Default returns the embedded table. It panics if the embedded file is invalid.
func Default() *Table {
	t, err := Parse(defaultLabels)
	if err != nil {
		panic(fmt.Sprintf("embedded label map: %v", err))
	}
	return t
}

// Parse decodes a label file.
func Parse(raw []byte) (*Table, error) {
	var file labelFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	if file.Version != SupportedVersion {
		return nil, fmt.Errorf("unsupported label map version: %d", file.Version)
	}

	t := &Table{
		Version: file.Version,
		labels:  make(map[string]string, len(file.Labels)),
	}
	for raw, canonical := range file.Labels {
		canonical = strings.TrimSpace(canonical)
		if canonical == "" {
			return nil, fmt.Errorf("label %q maps to an empty canonical label", raw)
		}
		t.labels[key(raw)] = canonical
	}
	for _, e := range file.Exclusions {
		if k := key(e); k != "" {
			t.exclusions = append(t.exclusions, k)
		}
	}
	for _, i := range file.Issuers {
		if k := key(i); k != "" {
			t.issuers = append(t.issuers, k)
		}
	}
	return t, nil
}

// Canonical maps a raw header to its canonical label.
func (t *Table) Canonical(raw string) (string, bool) {
	c, ok := t.labels[key(raw)]
	return c, ok
}

// Len returns the number of raw labels in the table.
func (t *Table) Len() int {
	return len(t.labels)
}

// IsExclusion reports whether a first-column value marks a non-person row.
// A cell matches when it starts with a marker.
func (t *Table) IsExclusion(cell string) bool {
	k := key(cell)
	if k == "" {
		return false
	}
	for _, e := range t.exclusions {
		if strings.HasPrefix(k, e) {
			return true
		}
	}
	return false
}

// IsIssuer reports whether cell names a known certifying body.
func (t *Table) IsIssuer(cell string) bool {
	k := key(cell)
	if k == "" {
		return false
	}
	for _, i := range t.issuers {
		if strings.HasPrefix(k, i) {
			return true
		}
	}
	return false
}
