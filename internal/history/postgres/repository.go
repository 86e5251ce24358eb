// Package postgres provides the Postgres-backed history repository.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arxivist/fetchsession/internal/history"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for history rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Repository writes finished sessions into Postgres.
type Repository struct {
	pool  queryExecCloser
	table string
}

// New creates a Postgres-backed Repository using the provided config.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "fetch_sessions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &Repository{pool: pool, table: table}, nil
}

// NewWithPool constructs a Repository from an existing pool (primarily for
// testing).
func NewWithPool(pool queryExecCloser, table string) (*Repository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "fetch_sessions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Repository{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// Insert writes one finished session row.
func (r *Repository) Insert(ctx context.Context, rec history.Record) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("history repository is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	started_at,
	finished_at,
	outcome,
	options_summary,
	papers_found,
	papers_analyzed,
	papers_saved,
	papers_filtered,
	papers_duplicate,
	cache_hits,
	error_kind,
	error_message
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);`, r.table)
	_, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.StartedAt,
		rec.FinishedAt,
		string(rec.Outcome),
		rec.Options,
		rec.Counters.Found,
		rec.Counters.Analyzed,
		rec.Counters.Saved,
		rec.Counters.Filtered,
		rec.Counters.Duplicates,
		rec.Counters.CacheHits,
		rec.ErrorKind,
		rec.ErrorMsg,
	)
	if err != nil {
		return fmt.Errorf("insert session record: %w", err)
	}
	return nil
}

// Recent returns up to limit records ordered newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]history.Record, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("history repository is not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
SELECT id, started_at, finished_at, outcome, options_summary,
	papers_found, papers_analyzed, papers_saved,
	papers_filtered, papers_duplicate, cache_hits,
	error_kind, error_message
FROM %s
ORDER BY finished_at DESC
LIMIT $1;`, r.table)
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list session records: %w", err)
	}
	defer rows.Close()

	var records []history.Record
	for rows.Next() {
		var rec history.Record
		var outcome string
		if err := rows.Scan(
			&rec.ID,
			&rec.StartedAt,
			&rec.FinishedAt,
			&outcome,
			&rec.Options,
			&rec.Counters.Found,
			&rec.Counters.Analyzed,
			&rec.Counters.Saved,
			&rec.Counters.Filtered,
			&rec.Counters.Duplicates,
			&rec.Counters.CacheHits,
			&rec.ErrorKind,
			&rec.ErrorMsg,
		); err != nil {
			return nil, fmt.Errorf("scan session record: %w", err)
		}
		rec.Outcome = history.Outcome(outcome)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session records: %w", err)
	}
	return records, nil
}
