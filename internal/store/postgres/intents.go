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

type intentRepo struct {
	ext     sqlx.ExtContext
	timeout time.Duration
}

const intentColumns = `id, symbol, direction, price, strategy_id, timeframe,
	gates_hit, gates_total, confidence, quality_tier, quality_score,
	card_state, status, primary_blocker, raw_payload, expires_at,
	created_at, updated_at`

func (r *intentRepo) Create(ctx context.Context, intent *store.TradeIntent) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO trade_intents (` + intentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.ext.ExecContext(ctx, query,
		intent.ID, intent.Symbol, intent.Direction, intent.Price,
		intent.StrategyID, intent.Timeframe, intent.GatesHit, intent.GatesTotal,
		intent.Confidence, intent.QualityTier, intent.QualityScore,
		intent.CardState, intent.Status, intent.PrimaryBlocker,
		[]byte(intent.RawPayload), intent.ExpiresAt, intent.CreatedAt, intent.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("duplicate intent %s: %w", intent.ID, err)
		}
		return fmt.Errorf("failed to insert intent: %w", err)
	}
	return nil
}

func (r *intentRepo) Update(ctx context.Context, intent *store.TradeIntent) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE trade_intents SET
			direction = $2, price = $3, strategy_id = $4, timeframe = $5,
			gates_hit = $6, gates_total = $7, confidence = $8,
			quality_tier = $9, quality_score = $10, card_state = $11,
			status = $12, primary_blocker = $13, raw_payload = $14,
			expires_at = $15, updated_at = $16
		WHERE id = $1`

	res, err := r.ext.ExecContext(ctx, query,
		intent.ID, intent.Direction, intent.Price, intent.StrategyID,
		intent.Timeframe, intent.GatesHit, intent.GatesTotal, intent.Confidence,
		intent.QualityTier, intent.QualityScore, intent.CardState,
		intent.Status, intent.PrimaryBlocker, []byte(intent.RawPayload),
		intent.ExpiresAt, intent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update intent %s: %w", intent.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *intentRepo) GetByID(ctx context.Context, id string) (*store.TradeIntent, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var intent store.TradeIntent
	query := `SELECT ` + intentColumns + ` FROM trade_intents WHERE id = $1`
	if err := sqlx.GetContext(ctx, r.ext, &intent, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get intent %s: %w", id, err)
	}
	return &intent, nil
}

func (r *intentRepo) Latest(ctx context.Context, symbol string, statuses []store.IntentStatus, now time.Time) (*store.TradeIntent, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	set := make([]string, len(statuses))
	for i, s := range statuses {
		set[i] = string(s)
	}

	var intent store.TradeIntent
	query := `
		SELECT ` + intentColumns + `
		FROM trade_intents
		WHERE symbol = $1 AND status = ANY($2) AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1`
	if err := sqlx.GetContext(ctx, r.ext, &intent, query, symbol, pq.Array(set), now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query latest intent for %s: %w", symbol, err)
	}
	return &intent, nil
}

func (r *intentRepo) ListActive(ctx context.Context, symbol string, now time.Time) ([]*store.TradeIntent, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	var intents []*store.TradeIntent
	query := `
		SELECT ` + intentColumns + `
		FROM trade_intents
		WHERE symbol = $1
		  AND status IN ('pending', 'swiped_on', 'cancelled')
		  AND expires_at > $2
		ORDER BY created_at DESC`
	if err := sqlx.SelectContext(ctx, r.ext, &intents, query, symbol, now); err != nil {
		return nil, fmt.Errorf("failed to list active intents for %s: %w", symbol, err)
	}
	return intents, nil
}
