// Package postgres provides the Postgres-backed record sink.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dongwoo46/bottlen/internal/feed"
)

// Config controls the Postgres connection pool used for record rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// IDGenerator mints row IDs on insert.
type IDGenerator interface {
	NewID() (string, error)
}

type execCloser interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Sink writes canonical records into the records table. Inserts are
// idempotent on (source, normalized link): the table carries a unique index
// on those columns and conflicting rows are silently skipped, the second
// line of defense behind the membership filter.
type Sink struct {
	pool execCloser
	ids  IDGenerator
}

// NewSink creates a Postgres-backed Sink using the provided config.
func NewSink(ctx context.Context, cfg Config, ids IDGenerator) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Sink{pool: pool, ids: ids}, nil
}

// NewSinkWithPool constructs a Sink from an existing pool (primarily for
// testing).
func NewSinkWithPool(pool execCloser, ids IDGenerator) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Sink{pool: pool, ids: ids}, nil
}

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Store inserts one record. Expected schema:
//
// CREATE TABLE records (
//
//	id UUID PRIMARY KEY,
//	source TEXT NOT NULL,
//	topic TEXT NOT NULL,
//	title TEXT NOT NULL,
//	link TEXT NOT NULL,
//	normalized_link TEXT NOT NULL,
//	summary TEXT,
//	body TEXT,
//	published_at TEXT NOT NULL,
//	author TEXT,
//	collected_at TIMESTAMPTZ NOT NULL,
//	UNIQUE (source, normalized_link)
//
// );
func (s *Sink) Store(ctx context.Context, rec feed.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record sink is not configured")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("mint record id: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO records (
	id,
	source,
	topic,
	title,
	link,
	normalized_link,
	summary,
	body,
	published_at,
	author,
	collected_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (source, normalized_link) DO NOTHING`,
		id,
		rec.Source,
		string(rec.Topic),
		rec.Title,
		rec.Link,
		feed.NormalizeLink(rec.Link),
		rec.Summary,
		rec.Body,
		rec.PublishedAt,
		rec.Author,
		rec.CollectedAt,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}
