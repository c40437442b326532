// Package competency holds the domain types shared by every stage of the
// import pipeline and the narrow service interfaces the orchestrator talks to.
package competency

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FieldType is the declared type of a competency definition.
type FieldType string

const (
	FieldText       FieldType = "text"
	FieldBoolean    FieldType = "boolean"
	FieldDate       FieldType = "date"
	FieldExpiryDate FieldType = "expiry_date"
)

// ParseFieldType maps a catalog string to a FieldType. Unknown values are rejected.
func ParseFieldType(s string) (FieldType, error) {
	switch ft := FieldType(strings.ToLower(strings.TrimSpace(s))); ft {
	case FieldText, FieldBoolean, FieldDate, FieldExpiryDate:
		return ft, nil
	default:
		return "", fmt.Errorf("unknown field type %q", s)
	}
}

// IsDate reports whether values of this type are parsed as dates.
func (ft FieldType) IsDate() bool {
	return ft == FieldDate || ft == FieldExpiryDate
}

// StatusActive is the only status the importer writes.
const StatusActive = "active"

// Definition is a catalog entry: a competency that can be tracked per person.
type Definition struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FieldType FieldType `json:"field_type"`
}

// Competency is one normalized value ready for persistence.
// Value and/or ExpiryDate is always set; the pointers are nil for "no value".
type Competency struct {
	PersonID          string  `json:"person_id"`
	CompetencyID      string  `json:"competency_id"`
	Value             *string `json:"value"`
	ExpiryDate        *string `json:"expiry_date"`
	IssuingBody       *string `json:"issuing_body"`
	CertificateNumber *string `json:"certificate_number"`
	Status            string  `json:"status"`
}

// Person is an identity as known by the Identity service.
type Person struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// PersonFilter selects people by exact email or exact username. Empty fields are ignored;
// a person matches when any non-empty field matches.
type PersonFilter struct {
	Email    string
	Username string
}

// NewPerson is the payload for creating an identity.
type NewPerson struct {
	Email          string
	Username       string
	DisplayName    string
	TempCredential string
	Role           string
	OrgID          string
}

// ErrConflict is returned by Identity.CreatePerson when the email or username is taken.
var ErrConflict = errors.New("person already exists")

// Catalog lists the competency definitions.
type Catalog interface {
	ListDefinitions(ctx context.Context) ([]Definition, error)
}

// Identity finds and creates people.
type Identity interface {
	FindPeople(ctx context.Context, filter PersonFilter) ([]Person, error)
	CreatePerson(ctx context.Context, p NewPerson) (Person, error)
}

// Store persists competencies. BulkUpsert overwrites any existing value for a
// (person, competency) pair.
type Store interface {
	BulkUpsert(ctx context.Context, personID string, items []Competency) error
}

// Index maps definition names to definitions using a case-insensitive key.
type Index map[string]Definition

// NewIndex builds an Index from a catalog listing.
func NewIndex(defs []Definition) Index {
	idx := make(Index, len(defs))
	for _, d := range defs {
		idx[indexKey(d.Name)] = d
	}
	return idx
}

// Lookup finds a definition by its canonical label.
func (idx Index) Lookup(label string) (Definition, bool) {
	d, ok := idx[indexKey(label)]
	return d, ok
}

// FieldType returns the declared type for label, if the catalog knows it.
func (idx Index) FieldType(label string) (FieldType, bool) {
	d, ok := idx.Lookup(label)
	return d.FieldType, ok
}

func indexKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
