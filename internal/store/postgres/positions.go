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

type positionRepo struct {
	ext     sqlx.ExtContext
	timeout time.Duration
}

const positionColumns = `id, symbol, side, quantity, entry_price, opened_at, closed_at`

func (r *positionRepo) Create(ctx context.Context, pos *store.Position) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.ext.ExecContext(ctx, query,
		pos.ID, pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice,
		pos.OpenedAt, pos.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to insert position: %w", err)
	}
	return nil
}

func (r *positionRepo) Update(ctx context.Context, pos *store.Position) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE positions SET quantity = $2, entry_price = $3, closed_at = $4
		WHERE id = $1`
	res, err := r.ext.ExecContext(ctx, query, pos.ID, pos.Quantity, pos.EntryPrice, pos.ClosedAt)
	if err != nil {
		return fmt.Errorf("failed to update position %s: %w", pos.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *positionRepo) GetByID(ctx context.Context, id string) (*store.Position, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var pos store.Position
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.ext, &pos, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get position %s: %w", id, err)
	}
	return &pos, nil
}

func (r *positionRepo) GetOpen(ctx context.Context, symbol string) (*store.Position, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var pos store.Position
	query := `
		SELECT ` + positionColumns + `
		FROM positions
		WHERE symbol = $1 AND closed_at IS NULL
		ORDER BY opened_at DESC
		LIMIT 1`
	if err := sqlx.GetContext(ctx, r.ext, &pos, query, symbol); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get open position for %s: %w", symbol, err)
	}
	return &pos, nil
}
