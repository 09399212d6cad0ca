// Package postgres provides the Postgres-backed results ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/contact-harvester/internal/store"
)

// Schema creates the ledger tables when they do not exist yet.
const Schema = `
CREATE TABLE IF NOT EXISTS harvest_runs (
	id UUID PRIMARY KEY,
	profile TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	total INTEGER NOT NULL DEFAULT 0,
	found INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS harvest_targets (
	run_id UUID NOT NULL REFERENCES harvest_runs(id) ON DELETE CASCADE,
	row_number INTEGER NOT NULL,
	url TEXT NOT NULL,
	site TEXT NOT NULL,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	strategy TEXT NOT NULL,
	outcome TEXT NOT NULL,
	note TEXT NOT NULL,
	duration_ms BIGINT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, row_number)
);`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Ledger implements store.ResultLedger.
type Ledger struct {
	pool querier
}

var _ store.ResultLedger = (*Ledger)(nil)

// NewLedger connects to Postgres using cfg.
func NewLedger(ctx context.Context, cfg Config) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	return &Ledger{pool: pool}, nil
}

// NewLedgerWithPool constructs a ledger from an existing pool (primarily for testing).
func NewLedgerWithPool(pool querier) (*Ledger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Ledger{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// EnsureSchema applies Schema.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}

// StartRun inserts the run row; replays keep the original start.
func (l *Ledger) StartRun(ctx context.Context, runID uuid.UUID, profile string, startedAt time.Time) error {
	query := `
		INSERT INTO harvest_runs (id, profile, started_at, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := l.pool.Exec(ctx, query, runID, profile, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// CompleteRun records the final status and totals.
func (l *Ledger) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	total,
	found int,
	errMsg *string,
) error {
	query := `
		UPDATE harvest_runs
		SET finished_at = $1, status = $2, total = $3, found = $4, error_message = $5
		WHERE id = $6;
	`
	tag, err := l.pool.Exec(ctx, query, finishedAt, status, total, found, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordTargets upserts outcomes in one transaction.
func (l *Ledger) RecordTargets(ctx context.Context, records []store.TargetRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin target tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := `
		INSERT INTO harvest_targets
			(run_id, row_number, url, site, name, email, strategy, outcome, note, duration_ms, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, row_number) DO UPDATE
		SET email = EXCLUDED.email, strategy = EXCLUDED.strategy, outcome = EXCLUDED.outcome,
			note = EXCLUDED.note, duration_ms = EXCLUDED.duration_ms, recorded_at = EXCLUDED.recorded_at;
	`
	for _, r := range records {
		if _, err = tx.Exec(ctx, query,
			r.RunID, r.Row, r.URL, r.Site, r.Name, r.Email,
			r.Strategy, r.Outcome, r.Note, r.DurationMS, r.RecordedAt,
		); err != nil {
			return fmt.Errorf("failed to upsert target row %d: %w", r.Row, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit target tx: %w", err)
	}
	return nil
}

// GetRun loads a single run.
func (l *Ledger) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, profile, started_at, finished_at, status, total, found, error_message
		FROM harvest_runs
		WHERE id = $1;
	`
	var run store.Run
	err := l.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.Profile,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Total,
		&run.Found,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListTargets returns outcomes for one run ordered by row.
func (l *Ledger) ListTargets(ctx context.Context, runID uuid.UUID, limit, offset int) ([]store.TargetRecord, error) {
	query := `
		SELECT run_id, row_number, url, site, name, email, strategy, outcome, note, duration_ms, recorded_at
		FROM harvest_targets
		WHERE run_id = $1
		ORDER BY row_number
		LIMIT $2 OFFSET $3;
	`
	rows, err := l.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}
	defer rows.Close()

	var out []store.TargetRecord
	for rows.Next() {
		var r store.TargetRecord
		if err := rows.Scan(
			&r.RunID, &r.Row, &r.URL, &r.Site, &r.Name, &r.Email,
			&r.Strategy, &r.Outcome, &r.Note, &r.DurationMS, &r.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan target row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate target rows: %w", err)
	}
	return out, nil
}
