package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/competency-import/internal/competency"
)

// Catalog reads and maintains competency definitions.
type Catalog struct {
	pool *pgxpool.Pool
}

// ListDefinitions returns every definition ordered by name.
func (c *Catalog) ListDefinitions(ctx context.Context) ([]competency.Definition, error) {
	rows, err := c.pool.Query(ctx, `SELECT id::text, name, field_type FROM competency_definitions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query definitions: %w", err)
	}

	defs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (competency.Definition, error) {
		var (
			d  competency.Definition
			ft string
		)
		if err := row.Scan(&d.ID, &d.Name, &ft); err != nil {
			return d, err
		}
		parsed, err := competency.ParseFieldType(ft)
		if err != nil {
			return d, fmt.Errorf("definition %q: %w", d.Name, err)
		}
		d.FieldType = parsed
		return d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan definitions: %w", err)
	}
	return defs, nil
}

// AddDefinition creates a definition, or updates the field type of an
// existing one with the same name.
func (c *Catalog) AddDefinition(ctx context.Context, name string, ft competency.FieldType) (competency.Definition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return competency.Definition{}, fmt.Errorf("definition name is required")
	}

	d := competency.Definition{Name: name, FieldType: ft}
	err := c.pool.QueryRow(ctx, `
		INSERT INTO competency_definitions (id, name, field_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (lower(name)) DO UPDATE SET field_type = EXCLUDED.field_type
		RETURNING id::text`,
		uuid.New(), name, string(ft),
	).Scan(&d.ID)
	if err != nil {
		return competency.Definition{}, fmt.Errorf("upsert definition %q: %w", name, err)
	}
	return d, nil
}
