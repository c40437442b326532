package core

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/competency-import/internal/competency"
)

type memCatalog struct {
	defs []competency.Definition
	err  error
}

func (c *memCatalog) ListDefinitions(context.Context) ([]competency.Definition, error) {
	return c.defs, c.err
}

func defaultCatalog() *memCatalog {
	return &memCatalog{defs: []competency.Definition{
		{ID: "c-pos", Name: "Job Position", FieldType: competency.FieldText},
		{ID: "c-start", Name: "Start Date", FieldType: competency.FieldDate},
		{ID: "c-gwo", Name: "GWO Basic Safety Training", FieldType: competency.FieldExpiryDate},
		{ID: "c-fa", Name: "First Aid at Work", FieldType: competency.FieldExpiryDate},
		{ID: "c-ind", Name: "Site Induction", FieldType: competency.FieldBoolean},
	}}
}

type memPerson struct {
	competency.Person
	// hiddenFor counts the lookups that still miss this person.
	hiddenFor int
}

// memIdentity is an in-memory identity service. New people can be made
// invisible for a number of lookups, and creation can be made to race with
// another writer.
type memIdentity struct {
	mu     sync.Mutex
	people []*memPerson
	nextID int

	lag int
	// raceOn makes CreatePerson for these emails insert the person as if
	// another writer won, then report a conflict.
	raceOn map[string]bool

	creates int
	finds   int
	created []competency.NewPerson
}

func newMemIdentity() *memIdentity {
	return &memIdentity{raceOn: map[string]bool{}}
}

func (m *memIdentity) FindPeople(_ context.Context, f competency.PersonFilter) ([]competency.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++

	var out []competency.Person
	for _, p := range m.people {
		match := (f.Email != "" && strings.EqualFold(p.Email, f.Email)) ||
			(f.Username != "" && p.Username == f.Username)
		if !match {
			continue
		}
		if p.hiddenFor > 0 {
			p.hiddenFor--
			continue
		}
		out = append(out, p.Person)
	}
	return out, nil
}

func (m *memIdentity) CreatePerson(_ context.Context, np competency.NewPerson) (competency.Person, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.people {
		if strings.EqualFold(p.Email, np.Email) || p.Username == np.Username {
			return competency.Person{}, competency.ErrConflict
		}
	}

	m.nextID++
	p := &memPerson{
		Person:    competency.Person{ID: fmt.Sprintf("p-%d", m.nextID), Email: np.Email, Username: np.Username},
		hiddenFor: m.lag,
	}
	m.people = append(m.people, p)

	if m.raceOn[np.Email] {
		delete(m.raceOn, np.Email)
		return competency.Person{}, fmt.Errorf("insert person: %w", competency.ErrConflict)
	}
	m.creates++
	m.created = append(m.created, np)
	return p.Person, nil
}

func (m *memIdentity) byEmail(email string) (competency.Person, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.people {
		if strings.EqualFold(p.Email, email) {
			return p.Person, true
		}
	}
	return competency.Person{}, false
}

func (m *memIdentity) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.people)
}

// memStore honors BulkUpsert as an overwrite per (person, competency).
type memStore struct {
	mu    sync.Mutex
	rows  map[string]map[string]competency.Competency
	calls int

	failFor  map[string]error
	panicFor map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		rows:     map[string]map[string]competency.Competency{},
		failFor:  map[string]error{},
		panicFor: map[string]bool{},
	}
}

func (s *memStore) BulkUpsert(_ context.Context, personID string, items []competency.Competency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if s.panicFor[personID] {
		panic("store exploded")
	}
	if err := s.failFor[personID]; err != nil {
		return err
	}
	if s.rows[personID] == nil {
		s.rows[personID] = map[string]competency.Competency{}
	}
	for _, c := range items {
		if c.PersonID != personID {
			return errors.New("person id mismatch")
		}
		s.rows[personID][c.CompetencyID] = c
	}
	return nil
}

func (s *memStore) get(personID, competencyID string) (competency.Competency, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[personID][competencyID]
	return c, ok
}

func (s *memStore) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		n += len(r)
	}
	return n
}

func (s *memStore) snapshot() map[string]map[string]competency.Competency {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]competency.Competency, len(s.rows))
	for k, v := range s.rows {
		out[k] = maps.Clone(v)
	}
	return out
}

// recordSleeps replaces the importer's sleep with one that records delays.
func recordSleeps(im *Importer) *[]time.Duration {
	var (
		mu     sync.Mutex
		sleeps []time.Duration
	)
	im.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}
	return &sleeps
}
