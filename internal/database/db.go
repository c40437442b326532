// Package database implements the competency catalog, identity service and
// competency store on PostgreSQL.
package database

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Open connects and pings the database.
func Open(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// DB bundles the three services over one pool.
type DB struct {
	*Catalog
	*People
	*Competencies
	pool *pgxpool.Pool
}

// New wraps pool.
func New(pool *pgxpool.Pool) *DB {
	return &DB{
		Catalog:      &Catalog{pool: pool},
		People:       &People{pool: pool},
		Competencies: &Competencies{pool: pool},
		pool:         pool,
	}
}

// Ping checks connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// ResetCounts reports what Reset deleted.
type ResetCounts struct {
	Competencies int64 `json:"competencies"`
	People       int64 `json:"people"`
}

// Reset deletes imported competency rows and, when people is set, the people
// the importer created. Runs in one transaction.
func (d *DB) Reset(ctx context.Context, people bool) (ResetCounts, error) {
	var counts ResetCounts
	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM person_competencies WHERE imported`)
		if err != nil {
			return fmt.Errorf("delete competencies: %w", err)
		}
		counts.Competencies = tag.RowsAffected()

		if !people {
			return nil
		}
		tag, err = tx.Exec(ctx, `DELETE FROM people WHERE imported`)
		if err != nil {
			return fmt.Errorf("delete people: %w", err)
		}
		counts.People = tag.RowsAffected()
		return nil
	})
	return counts, err
}

// isUniqueViolation reports a 23505 error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
