// Package postgres implements store.Store on PostgreSQL via sqlx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/store"
)

// PG is the PostgreSQL-backed store.
type PG struct {
	db      *sqlx.DB
	ext     sqlx.ExtContext
	timeout time.Duration
}

// Open connects to PostgreSQL and applies pool settings.
func Open(cfg config.DatabaseSection) (*PG, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &PG{db: db, ext: db, timeout: cfg.QueryTimeout}, nil
}

// Close releases the connection pool.
func (p *PG) Close() error { return p.db.Close() }

func (p *PG) Intents() store.IntentRepo       { return &intentRepo{ext: p.ext, timeout: p.timeout} }
func (p *PG) Executions() store.ExecutionRepo { return &execRepo{ext: p.ext, timeout: p.timeout} }
func (p *PG) Positions() store.PositionRepo   { return &positionRepo{ext: p.ext, timeout: p.timeout} }
func (p *PG) Tickers() store.TickerRepo       { return &tickerRepo{ext: p.ext, timeout: p.timeout} }
func (p *PG) Audit() store.AuditRepo          { return &auditRepo{ext: p.ext, timeout: p.timeout} }

// Atomic runs fn inside a single database transaction. Nested calls
// reuse the caller's transaction rather than opening a new one.
func (p *PG) Atomic(ctx context.Context, fn func(store.Store) error) error {
	if _, nested := p.ext.(*sqlx.Tx); nested {
		return fn(p)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	view := &PG{db: p.db, ext: tx, timeout: p.timeout}
	if err := fn(view); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(ctx, d)
}
