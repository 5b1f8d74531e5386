package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/tradegate/internal/store"
)

type execRepo struct {
	ext     sqlx.ExtContext
	timeout time.Duration
}

const execColumns = `id, symbol, direction, action, quantity, limit_price,
	status, delay_until, executed_at, error_message, intent_id, raw_payload,
	created_at, updated_at`

func (r *execRepo) Create(ctx context.Context, exec *store.Execution) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO executions (` + execColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.ext.ExecContext(ctx, query,
		exec.ID, exec.Symbol, exec.Direction, exec.Action, exec.Quantity,
		exec.LimitPrice, exec.Status, exec.DelayUntil, exec.ExecutedAt,
		exec.ErrorMessage, exec.IntentID, []byte(exec.RawPayload),
		exec.CreatedAt, exec.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate execution %s: %w", exec.ID, err)
		}
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

func (r *execRepo) Update(ctx context.Context, exec *store.Execution) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE executions SET
			status = $2, delay_until = $3, executed_at = $4,
			error_message = $5, intent_id = $6, quantity = $7,
			limit_price = $8, updated_at = $9
		WHERE id = $1`

	res, err := r.ext.ExecContext(ctx, query,
		exec.ID, exec.Status, exec.DelayUntil, exec.ExecutedAt,
		exec.ErrorMessage, exec.IntentID, exec.Quantity, exec.LimitPrice,
		exec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", exec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *execRepo) GetByID(ctx context.Context, id string) (*store.Execution, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var exec store.Execution
	query := `SELECT ` + execColumns + ` FROM executions WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.ext, &exec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}
	return &exec, nil
}

func (r *execRepo) ListOpen(ctx context.Context, symbol string) ([]*store.Execution, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var execs []*store.Execution
	query := `
		SELECT ` + execColumns + `
		FROM executions
		WHERE symbol = $1 AND status IN ('pending', 'executing')
		ORDER BY created_at DESC`
	if err := sqlx.SelectContext(ctx, r.ext, &execs, query, symbol); err != nil {
		return nil, fmt.Errorf("failed to list open executions for %s: %w", symbol, err)
	}
	return execs, nil
}

func (r *execRepo) LatestUnlinked(ctx context.Context, symbol string, since time.Time) (*store.Execution, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var exec store.Execution
	query := `
		SELECT ` + execColumns + `
		FROM executions
		WHERE symbol = $1
		  AND intent_id IS NULL
		  AND created_at >= $2
		  AND status IN ('pending', 'executing', 'executed')
		ORDER BY created_at DESC
		LIMIT 1`
	if err := sqlx.GetContext(ctx, r.ext, &exec, query, symbol, since); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query unlinked execution for %s: %w", symbol, err)
	}
	return &exec, nil
}

func (r *execRepo) PendingExitFor(ctx context.Context, symbol, positionID string) (*store.Execution, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var exec store.Execution
	query := `
		SELECT ` + execColumns + `
		FROM executions
		WHERE symbol = $1
		  AND status = 'pending'
		  AND raw_payload->>'event' = 'EXIT'
		  AND raw_payload->>'position_id' = $2
		ORDER BY created_at DESC
		LIMIT 1`
	if err := sqlx.GetContext(ctx, r.ext, &exec, query, symbol, positionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query pending exit for %s: %w", symbol, err)
	}
	return &exec, nil
}

func (r *execRepo) ListDue(ctx context.Context, now time.Time) ([]*store.Execution, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var execs []*store.Execution
	query := `
		SELECT ` + execColumns + `
		FROM executions
		WHERE status = 'pending' AND (delay_until IS NULL OR delay_until <= $1)
		ORDER BY created_at ASC`
	if err := sqlx.SelectContext(ctx, r.ext, &execs, query, now); err != nil {
		return nil, fmt.Errorf("failed to list due executions: %w", err)
	}
	return execs, nil
}
