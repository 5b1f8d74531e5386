package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/tradegate/internal/store"
)

type tickerRepo struct {
	ext     sqlx.ExtContext
	timeout time.Duration
}

func (r *tickerRepo) Get(ctx context.Context, symbol string) (*store.TickerConfig, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var cfg store.TickerConfig
	query := `
		SELECT symbol, enabled, alerts_blocked, blocked_until, updated_at
		FROM ticker_configs WHERE symbol = $1`
	if err := sqlx.GetContext(ctx, r.ext, &cfg, query, symbol); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ticker config for %s: %w", symbol, err)
	}
	return &cfg, nil
}

func (r *tickerRepo) Upsert(ctx context.Context, cfg *store.TickerConfig) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO ticker_configs (symbol, enabled, alerts_blocked, blocked_until, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			alerts_blocked = EXCLUDED.alerts_blocked,
			blocked_until = EXCLUDED.blocked_until,
			updated_at = EXCLUDED.updated_at`
	_, err := r.ext.ExecContext(ctx, query,
		cfg.Symbol, cfg.Enabled, cfg.AlertsBlocked, cfg.BlockedUntil, cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert ticker config for %s: %w", cfg.Symbol, err)
	}
	return nil
}

func (r *tickerRepo) ResetBlocks(ctx context.Context) (int, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE ticker_configs
		SET enabled = TRUE, alerts_blocked = FALSE, blocked_until = NULL, updated_at = NOW()
		WHERE enabled = FALSE OR alerts_blocked = TRUE OR blocked_until IS NOT NULL`
	res, err := r.ext.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset ticker blocks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
