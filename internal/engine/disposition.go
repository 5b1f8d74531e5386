package engine

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/lock"
	"github.com/sawpanic/tradegate/internal/metrics"
	"github.com/sawpanic/tradegate/internal/store"
)

// ErrLocked reports that another handler currently holds the symbol
// lock an operation needs. Callers retry once the lock expires.
var ErrLocked = errors.New("symbol lock held by another handler")

// ApproveIntent marks an intent swiped_on and makes sure its ticker is
// enabled so the linked order can proceed.
func (e *Engine) ApproveIntent(ctx context.Context, id string) error {
	intent, err := e.store.Intents().GetByID(ctx, id)
	if err != nil {
		return err
	}
	previous := intent.Status
	intent.Status = store.IntentSwipedOn
	intent.UpdatedAt = e.now()
	if err := e.store.Intents().Update(ctx, intent); err != nil {
		return err
	}

	if err := e.setTickerEnabled(ctx, intent.Symbol, true); err != nil {
		return err
	}

	e.audit(ctx, "intent_approved", intent.Symbol, map[string]any{
		"intent_id":       intent.ID,
		"previous_status": previous,
		"new_status":      intent.Status,
	})
	return nil
}

// DenyIntent marks an intent swiped_deny; further ORDER signals for
// the symbol are blocked until the intent expires.
func (e *Engine) DenyIntent(ctx context.Context, id string) error {
	intent, err := e.store.Intents().GetByID(ctx, id)
	if err != nil {
		return err
	}
	previous := intent.Status
	intent.Status = store.IntentDenied
	intent.UpdatedAt = e.now()
	if err := e.store.Intents().Update(ctx, intent); err != nil {
		return err
	}

	e.audit(ctx, "intent_denied", intent.Symbol, map[string]any{
		"intent_id":       intent.ID,
		"previous_status": previous,
		"new_status":      intent.Status,
	})
	return nil
}

// OffIntent marks an intent swiped_off, disables the ticker, and
// cascade-cancels every other reviewable intent for the symbol so
// stale duplicates cannot reappear.
func (e *Engine) OffIntent(ctx context.Context, id string) error {
	intent, err := e.store.Intents().GetByID(ctx, id)
	if err != nil {
		return err
	}
	now := e.now()
	previous := intent.Status
	intent.Status = store.IntentSwipedOff
	intent.UpdatedAt = now
	if err := e.store.Intents().Update(ctx, intent); err != nil {
		return err
	}

	if err := e.setTickerEnabled(ctx, intent.Symbol, false); err != nil {
		return err
	}

	siblings, err := e.store.Intents().ListActive(ctx, intent.Symbol, now)
	if err != nil {
		return err
	}
	cancelled := 0
	for _, sib := range siblings {
		if sib.ID == intent.ID || sib.Status == store.IntentCancelled {
			continue
		}
		sib.Status = store.IntentCancelled
		sib.UpdatedAt = now
		if err := e.store.Intents().Update(ctx, sib); err != nil {
			return err
		}
		cancelled++
	}

	e.audit(ctx, "intent_swiped_off", intent.Symbol, map[string]any{
		"intent_id":          intent.ID,
		"previous_status":    previous,
		"new_status":         intent.Status,
		"cancelled_siblings": cancelled,
	})
	return nil
}

// ReviveIntent puts an intent back into the review queue.
func (e *Engine) ReviveIntent(ctx context.Context, id string) error {
	intent, err := e.store.Intents().GetByID(ctx, id)
	if err != nil {
		return err
	}
	previous := intent.Status
	intent.Status = store.IntentPending
	intent.UpdatedAt = e.now()
	if err := e.store.Intents().Update(ctx, intent); err != nil {
		return err
	}

	e.audit(ctx, "intent_revived", intent.Symbol, map[string]any{
		"intent_id":       intent.ID,
		"previous_status": previous,
		"new_status":      intent.Status,
	})
	return nil
}

// MarkFlat manually closes the open position for a symbol. It competes
// for the same position_close lock as EXIT and SL_HIT; no cooldown is
// applied for a manual flat.
func (e *Engine) MarkFlat(ctx context.Context, symbol string) (*Result, error) {
	ok, err := e.locks.Acquire(ctx, symbol, lock.PurposeClose, e.cfg.CloseLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.LockContentionTotal.WithLabelValues(string(lock.PurposeClose)).Inc()
		return blocked(ReasonCloseInProgress, "a close for this symbol is already in progress"), nil
	}
	defer e.locks.Release(ctx, symbol, lock.PurposeClose)

	pos, err := e.store.Positions().GetOpen(ctx, symbol)
	if err == store.ErrNotFound {
		return rejected(ReasonNoPosition, "no open position for "+symbol), nil
	}
	if err != nil {
		return nil, err
	}

	closedQty := pos.Quantity
	if err := e.closePosition(ctx, e.store, pos, false); err != nil {
		return nil, err
	}

	e.audit(ctx, "position_marked_flat", symbol, map[string]any{
		"position_id":     pos.ID,
		"closed_quantity": closedQty,
	})

	log.Info().Str("symbol", symbol).Str("position_id", pos.ID).Msg("position marked flat")
	return &Result{Outcome: OutcomeAccepted, PositionID: pos.ID}, nil
}

// CancelExecution cancels a pending execution before its delay fires.
// It takes the execution's symbol lock so the cancel cannot interleave
// with a scheduler fire or an in-flight close.
func (e *Engine) CancelExecution(ctx context.Context, id string) error {
	exec, release, err := e.lockPending(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	exec.Status = store.ExecCancelled
	exec.UpdatedAt = e.now()
	if err := e.store.Executions().Update(ctx, exec); err != nil {
		return err
	}
	metrics.ExecutionsTotal.WithLabelValues(string(store.ExecCancelled)).Inc()

	e.audit(ctx, "execution_cancelled", exec.Symbol, map[string]any{
		"execution_id": exec.ID,
	})
	return nil
}

// ForceExecute fires a pending execution immediately, ahead of its
// delay window. An exit fill contends with EXIT/SL_HIT/mark-flat for
// the close lock; a held lock surfaces as ErrLocked rather than
// firing against a position mid-close.
func (e *Engine) ForceExecute(ctx context.Context, id string) error {
	exec, release, err := e.lockPending(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if err := e.executeNow(ctx, e.store, exec); err != nil {
		return err
	}

	e.audit(ctx, "execution_forced", exec.Symbol, map[string]any{
		"execution_id": exec.ID,
	})
	return nil
}

// lockPending acquires the symbol lock for a pending execution and
// re-reads it under the lock. The caller must invoke release.
func (e *Engine) lockPending(ctx context.Context, id string) (*store.Execution, func(), error) {
	exec, err := e.store.Executions().GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if exec.Status != store.ExecPending {
		return nil, nil, store.ErrNotFound
	}

	purpose, ttl := e.executionLock(exec)
	ok, err := e.locks.Acquire(ctx, exec.Symbol, purpose, ttl)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		metrics.LockContentionTotal.WithLabelValues(string(purpose)).Inc()
		return nil, nil, ErrLocked
	}
	release := func() { e.locks.Release(ctx, exec.Symbol, purpose) }

	// Re-read under the lock; a concurrent fire or close may have
	// already settled the execution.
	exec, err = e.store.Executions().GetByID(ctx, exec.ID)
	if err != nil {
		release()
		return nil, nil, err
	}
	if exec.Status != store.ExecPending {
		release()
		return nil, nil, store.ErrNotFound
	}
	return exec, release, nil
}

// ResetTickerBlocks clears every ticker block and mute in one sweep.
func (e *Engine) ResetTickerBlocks(ctx context.Context) (int, error) {
	n, err := e.store.Tickers().ResetBlocks(ctx)
	if err != nil {
		return 0, err
	}
	e.audit(ctx, "ticker_blocks_reset", "", map[string]any{"tickers_reset": n})
	return n, nil
}

// UpdateTicker sets the enable switch and alert mute for one symbol,
// creating the config lazily on first use.
func (e *Engine) UpdateTicker(ctx context.Context, symbol string, enabled, alertsBlocked bool) error {
	now := e.now()
	cfg, err := e.store.Tickers().Get(ctx, symbol)
	if err == store.ErrNotFound {
		cfg = &store.TickerConfig{Symbol: symbol}
	} else if err != nil {
		return err
	}
	cfg.Enabled = enabled
	cfg.AlertsBlocked = alertsBlocked
	cfg.UpdatedAt = now
	if err := e.store.Tickers().Upsert(ctx, cfg); err != nil {
		return err
	}

	e.audit(ctx, "ticker_updated", symbol, map[string]any{
		"enabled":        enabled,
		"alerts_blocked": alertsBlocked,
	})
	return nil
}

func (e *Engine) setTickerEnabled(ctx context.Context, symbol string, enabled bool) error {
	cfg, err := e.store.Tickers().Get(ctx, symbol)
	if err == store.ErrNotFound {
		cfg = &store.TickerConfig{Symbol: symbol}
	} else if err != nil {
		return err
	}
	cfg.Enabled = enabled
	cfg.UpdatedAt = e.now()
	return e.store.Tickers().Upsert(ctx, cfg)
}
