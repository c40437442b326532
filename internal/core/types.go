package core

import (
	"fmt"
	"slices"
	"time"

	"github.com/JonMunkholm/competency-import/internal/extract"
	"github.com/JonMunkholm/competency-import/internal/layout"
	"github.com/JonMunkholm/competency-import/internal/schema"
	"github.com/JonMunkholm/competency-import/internal/tabular"
)

// Phase is the stage of an import run.
type Phase string

const (
	PhaseUpload    Phase = "upload"
	PhasePreview   Phase = "preview"
	PhaseImporting Phase = "importing"
	PhaseComplete  Phase = "complete"
	PhaseFailed    Phase = "failed"
)

// Input is an uploaded file plus the caller's choices.
type Input struct {
	FileName string
	Data     []byte
	// Format is derived from FileName when empty.
	Format tabular.Format
	Layout layout.Kind
	DryRun bool
}

// Progress is a snapshot of a run, published after every record.
type Progress struct {
	RunID     string `json:"runId"`
	FileName  string `json:"fileName"`
	Phase     Phase  `json:"phase"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Percent returns the progress as a percentage (0-100).
func (p Progress) Percent() int {
	if p.Total <= 0 {
		if p.Phase == PhaseComplete {
			return 100
		}
		return 0
	}
	return (p.Current * 100) / p.Total
}

// ProgressFunc receives progress snapshots. It is called from the run's goroutine.
type ProgressFunc func(Progress)

// RowError describes a record that could not be imported.
type RowError struct {
	RowIndex    int    `json:"rowIndex"`
	PersonLabel string `json:"personLabel"`
	Message     string `json:"message"`
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d (%s): %s", e.RowIndex, e.PersonLabel, e.Message)
}

// ImportResult is the final state of a run. Copies returned by this package
// share no memory with the run.
type ImportResult struct {
	RunID         string        `json:"runId"`
	FileName      string        `json:"fileName"`
	Total         int           `json:"total"`
	SuccessCount  int           `json:"successCount"`
	Errors        []RowError    `json:"errors"`
	SkippedLabels []string      `json:"skippedLabels,omitempty"`
	DryRun        bool          `json:"dryRun"`
	Cancelled     bool          `json:"cancelled"`
	Duration      time.Duration `json:"duration"`
	// Error is set when the run failed before any record was processed.
	Error string `json:"error,omitempty"`
}

// Clone returns a deep copy of r.
func (r ImportResult) Clone() ImportResult {
	r.Errors = slices.Clone(r.Errors)
	r.SkippedLabels = slices.Clone(r.SkippedLabels)
	return r
}

// Preview is what a run would import, computed without writing anything.
type Preview struct {
	FileName string           `json:"fileName"`
	Format   tabular.Format   `json:"format"`
	Sheet    string           `json:"sheet,omitempty"`
	Encoding string           `json:"encoding,omitempty"`
	Layout   layout.Layout    `json:"layout"`
	Columns  schema.ColumnMap `json:"columns"`
	Stats    extract.Stats    `json:"stats"`
	Records  []extract.Record `json:"records"`
	// Unmatched lists column labels with no catalog definition.
	Unmatched []string `json:"unmatched"`
}
