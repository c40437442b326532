package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/competency-import/internal/competency"
)

const upsertCompetency = `
INSERT INTO person_competencies
    (id, person_id, competency_id, value, expiry_date, issuing_body, certificate_number, status, imported)
VALUES ($1, $2, $3, $4, $5::timestamptz, $6, $7, $8, TRUE)
ON CONFLICT ON CONSTRAINT person_competencies_person_competency_key DO UPDATE SET
    value              = EXCLUDED.value,
    expiry_date        = EXCLUDED.expiry_date,
    issuing_body       = EXCLUDED.issuing_body,
    certificate_number = EXCLUDED.certificate_number,
    status             = EXCLUDED.status,
    imported           = TRUE,
    updated_at         = now()`

// Competencies is the competency store.
type Competencies struct {
	pool *pgxpool.Pool
}

// BulkUpsert writes items for one person in a single transaction. An existing
// row for the same (person, competency) pair is overwritten.
func (c *Competencies) BulkUpsert(ctx context.Context, personID string, items []competency.Competency) error {
	if len(items) == 0 {
		return nil
	}
	pid, err := parseID(personID)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, c.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, it := range items {
			cid, err := parseID(it.CompetencyID)
			if err != nil {
				return err
			}
			batch.Queue(upsertCompetency,
				uuid.New(), pid, cid,
				nullable(it.Value), nullable(it.ExpiryDate),
				nullable(it.IssuingBody), nullable(it.CertificateNumber),
				statusOrActive(it.Status),
			)
		}

		results := tx.SendBatch(ctx, batch)
		for i := range items {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("upsert competency %s: %w", items[i].CompetencyID, err)
			}
		}
		return results.Close()
	})
}

// ForPerson lists the stored competencies of a person.
func (c *Competencies) ForPerson(ctx context.Context, personID string) ([]competency.Competency, error) {
	pid, err := parseID(personID)
	if err != nil {
		return nil, err
	}
	rows, err := c.pool.Query(ctx, `
		SELECT person_id::text, competency_id::text, value,
		       to_char(expiry_date AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"'),
		       issuing_body, certificate_number, status
		FROM person_competencies WHERE person_id = $1
		ORDER BY competency_id`, pid)
	if err != nil {
		return nil, fmt.Errorf("query competencies: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[competency.Competency])
	if err != nil {
		return nil, fmt.Errorf("scan competencies: %w", err)
	}
	return out, nil
}

func statusOrActive(s string) string {
	if s == "" {
		return competency.StatusActive
	}
	return s
}
