// Package postgres provides the Postgres-backed dedup store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/placementwatch/tnp-monitor/internal/monitor"
)

// Config controls the Postgres connection pool for the dedup store.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies
// it in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// SeenStore implements monitor.SeenStore on Postgres. Fingerprints are
// primary keys; MarkSeen is insert-if-absent, so replayed batches are
// harmless.
type SeenStore struct {
	pool pool
}

const schema = `
CREATE TABLE IF NOT EXISTS seen_postings (
	fingerprint TEXT PRIMARY KEY,
	category    TEXT NOT NULL,
	first_seen  TIMESTAMPTZ NOT NULL
);`

// NewSeenStore connects to Postgres and ensures the schema exists.
func NewSeenStore(ctx context.Context, cfg Config) (*SeenStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	store := &SeenStore{pool: p}
	if err := store.ensureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewSeenStoreWithPool wraps an existing pool, used by tests.
func NewSeenStoreWithPool(p pool) *SeenStore {
	return &SeenStore{pool: p}
}

func (s *SeenStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure seen_postings schema: %w", err)
	}
	return nil
}

// FilterSeen reports which of the given fingerprints already exist.
func (s *SeenStore) FilterSeen(
	ctx context.Context,
	fps []monitor.Fingerprint,
) (map[monitor.Fingerprint]bool, error) {
	seen := make(map[monitor.Fingerprint]bool, len(fps))
	if len(fps) == 0 {
		return seen, nil
	}

	args := make([]string, len(fps))
	for i, fp := range fps {
		args[i] = string(fp)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT fingerprint FROM seen_postings WHERE fingerprint = ANY($1)`, args)
	if err != nil {
		return nil, fmt.Errorf("query seen fingerprints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("scan fingerprint row: %w", err)
		}
		seen[monitor.Fingerprint(fp)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fingerprint rows: %w", err)
	}
	return seen, nil
}

// MarkSeen inserts the records in one transaction, ignoring fingerprints
// that are already present.
func (s *SeenStore) MarkSeen(ctx context.Context, records []monitor.SeenRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin mark-seen transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, rec := range records {
		_, err := tx.Exec(ctx,
			`INSERT INTO seen_postings (fingerprint, category, first_seen)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (fingerprint) DO NOTHING`,
			string(rec.Fingerprint), string(rec.Category), rec.FirstSeenAt,
		)
		if err != nil {
			return fmt.Errorf("insert fingerprint: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit mark-seen transaction: %w", err)
	}
	return nil
}

// Count returns the number of fingerprints in the store.
func (s *SeenStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM seen_postings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count seen fingerprints: %w", err)
	}
	return n, nil
}

// Close releases the connection pool.
func (s *SeenStore) Close() {
	s.pool.Close()
}
