// Package admin provides administrative operations on imported data.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/competency-import/internal/core"
	"github.com/JonMunkholm/competency-import/internal/database"
	"github.com/JonMunkholm/competency-import/internal/logging"
)

// ResetTimeout is the maximum duration for a reset.
const ResetTimeout = 30 * time.Second

// ErrImportsActive is returned when a reset is requested while runs are processing.
var ErrImportsActive = core.ErrImportsActive

// Store deletes imported data.
type Store interface {
	Reset(ctx context.Context, people bool) (database.ResetCounts, error)
}

// ActiveCounter reports runs in progress.
type ActiveCounter interface {
	ActiveCount() int
}

// Resetter removes everything the importer wrote.
type Resetter struct {
	Store Store
	// Active is optional; when set, resets are refused while runs are active.
	Active ActiveCounter
}

// Reset deletes imported competency values and, if people is set, the people
// created by imports. Catalog definitions are never touched.
func (r *Resetter) Reset(ctx context.Context, people bool) (database.ResetCounts, error) {
	if r.Active != nil && r.Active.ActiveCount() > 0 {
		return database.ResetCounts{}, ErrImportsActive
	}

	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	counts, err := r.Store.Reset(ctx, people)
	if err != nil {
		return database.ResetCounts{}, fmt.Errorf("reset imported data: %w", err)
	}

	logging.FromContext(ctx).Warn("imported data reset",
		"competencies", counts.Competencies,
		"people", counts.People,
	)
	return counts, nil
}
