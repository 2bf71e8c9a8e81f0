// Package postgres provides the Postgres-backed feed registry.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dongwoo46/bottlen/internal/feed"
)

// Config controls the Postgres connection pool used for feed rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// IDGenerator mints feed IDs on create.
type IDGenerator interface {
	NewID() (string, error)
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Registry stores feed sources in the feeds table.
type Registry struct {
	pool  pgxPool
	ids   IDGenerator
	clock feed.Clock
}

// NewRegistry creates a Postgres-backed Registry using the provided config.
func NewRegistry(ctx context.Context, cfg Config, ids IDGenerator, clock feed.Clock) (*Registry, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("registry.dsn is required")
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
	return &Registry{pool: pool, ids: ids, clock: clock}, nil
}

// NewRegistryWithPool constructs a Registry from an existing pool
// (primarily for testing).
func NewRegistryWithPool(pool pgxPool, ids IDGenerator, clock feed.Clock) (*Registry, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Registry{pool: pool, ids: ids, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (r *Registry) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

const feedColumns = `id, source, topic, url, interval_seconds, enabled, last_run_at, created_at, updated_at`

// Create inserts a new feed source, minting its ID and timestamps.
// Expected schema:
//
// CREATE TABLE feeds (
//
//	id UUID PRIMARY KEY,
//	source TEXT NOT NULL,
//	topic TEXT NOT NULL,
//	url TEXT NOT NULL,
//	interval_seconds INT NOT NULL CHECK (interval_seconds > 0),
//	enabled BOOLEAN NOT NULL DEFAULT TRUE,
//	last_run_at TIMESTAMPTZ,
//	created_at TIMESTAMPTZ NOT NULL,
//	updated_at TIMESTAMPTZ NOT NULL
//
// );
func (r *Registry) Create(ctx context.Context, src feed.Source) (feed.Source, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return feed.Source{}, fmt.Errorf("mint feed id: %w", err)
	}
	now := r.clock.Now().UTC()
	src.ID = id
	src.LastRunAt = nil
	src.CreatedAt = now
	src.UpdatedAt = now

	_, err = r.pool.Exec(ctx, `
INSERT INTO feeds (id, source, topic, url, interval_seconds, enabled, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		src.ID, src.Source, string(src.Topic), src.URL, src.IntervalSeconds, src.Enabled, src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return feed.Source{}, fmt.Errorf("insert feed: %w", err)
	}
	return src, nil
}

// Get fetches a feed source by ID.
func (r *Registry) Get(ctx context.Context, id string) (feed.Source, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id)
	src, err := scanFeed(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return feed.Source{}, feed.ErrNotFound
	}
	if err != nil {
		return feed.Source{}, fmt.Errorf("select feed: %w", err)
	}
	return src, nil
}

// Update replaces the mutable fields of an existing feed source. lastRunAt
// is owned by MarkRun and never touched here.
func (r *Registry) Update(ctx context.Context, src feed.Source) (feed.Source, error) {
	now := r.clock.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
UPDATE feeds
SET source = $2, topic = $3, url = $4, interval_seconds = $5, enabled = $6, updated_at = $7
WHERE id = $1`,
		src.ID, src.Source, string(src.Topic), src.URL, src.IntervalSeconds, src.Enabled, now,
	)
	if err != nil {
		return feed.Source{}, fmt.Errorf("update feed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return feed.Source{}, feed.ErrNotFound
	}
	return r.Get(ctx, src.ID)
}

// Delete removes a feed source.
func (r *Registry) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM feeds WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return feed.ErrNotFound
	}
	return nil
}

// ListEnabled returns all enabled feed sources ordered by creation time.
func (r *Registry) ListEnabled(ctx context.Context) ([]feed.Source, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+feedColumns+` FROM feeds WHERE enabled ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("select enabled feeds: %w", err)
	}
	return scanFeeds(rows)
}

// ListDue returns the enabled feed sources due to run at the given instant.
// The predicate runs in SQL so only due rows cross the wire.
func (r *Registry) ListDue(ctx context.Context, now time.Time) ([]feed.Source, error) {
	rows, err := r.pool.Query(ctx, `
SELECT `+feedColumns+` FROM feeds
WHERE enabled
  AND (last_run_at IS NULL OR last_run_at + make_interval(secs => interval_seconds) <= $1)
ORDER BY created_at, id`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("select due feeds: %w", err)
	}
	return scanFeeds(rows)
}

// MarkRun persists the feed's last run time.
func (r *Registry) MarkRun(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
UPDATE feeds SET last_run_at = $2, updated_at = $3 WHERE id = $1`,
		id, at.UTC(), r.clock.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark feed run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return feed.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (feed.Source, error) {
	var (
		src   feed.Source
		topic string
	)
	err := row.Scan(
		&src.ID, &src.Source, &topic, &src.URL, &src.IntervalSeconds,
		&src.Enabled, &src.LastRunAt, &src.CreatedAt, &src.UpdatedAt,
	)
	if err != nil {
		return feed.Source{}, err
	}
	src.Topic = feed.Topic(topic)
	return src, nil
}

func scanFeeds(rows pgx.Rows) ([]feed.Source, error) {
	defer rows.Close()
	var out []feed.Source
	for rows.Next() {
		src, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed row: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed rows: %w", err)
	}
	return out, nil
}
