package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/JonMunkholm/competency-import/internal/competency"
)

// People is the identity service.
type People struct {
	pool *pgxpool.Pool
}

// FindPeople matches on email (case-insensitive) or username.
func (p *People) FindPeople(ctx context.Context, f competency.PersonFilter) ([]competency.Person, error) {
	if f.Email == "" && f.Username == "" {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, email, username FROM people
		WHERE ($1 <> '' AND lower(email) = lower($1))
		   OR ($2 <> '' AND username = $2)
		ORDER BY created_at`,
		f.Email, f.Username,
	)
	if err != nil {
		return nil, fmt.Errorf("query people: %w", err)
	}
	people, err := pgx.CollectRows(rows, pgx.RowToStructByPos[competency.Person])
	if err != nil {
		return nil, fmt.Errorf("scan people: %w", err)
	}
	return people, nil
}

// CreatePerson inserts a person flagged as imported. The temporary credential
// is stored as a bcrypt hash and must be reset on first sign-in. A taken
// email or username returns competency.ErrConflict.
func (p *People) CreatePerson(ctx context.Context, np competency.NewPerson) (competency.Person, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(np.TempCredential), bcrypt.DefaultCost)
	if err != nil {
		return competency.Person{}, fmt.Errorf("hash credential: %w", err)
	}

	id := uuid.New()
	_, err = p.pool.Exec(ctx, `
		INSERT INTO people (id, email, username, display_name, role, org_id, credential_hash, imported)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)`,
		id, np.Email, np.Username, np.DisplayName, np.Role, np.OrgID, string(hash),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return competency.Person{}, competency.ErrConflict
		}
		return competency.Person{}, fmt.Errorf("insert person: %w", err)
	}
	return competency.Person{ID: id.String(), Email: np.Email, Username: np.Username}, nil
}
