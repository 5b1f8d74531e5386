package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/lock"
	"github.com/sawpanic/tradegate/internal/metrics"
	"github.com/sawpanic/tradegate/internal/signal"
	"github.com/sawpanic/tradegate/internal/store"
)

// handleStopLoss reconciles a broker-side stop that already executed.
// It never forwards anything to the broker; the close, the cooldown,
// the stale-order cancellation and the audit entry commit atomically
// so no partial state is ever observable.
func (e *Engine) handleStopLoss(ctx context.Context, sig *signal.StopLossSignal) (*Result, error) {
	symbol := sig.Instrument()

	ok, err := e.locks.Acquire(ctx, symbol, lock.PurposeClose, e.cfg.CloseLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.LockContentionTotal.WithLabelValues(string(lock.PurposeClose)).Inc()
		metrics.RejectedTotal.WithLabelValues(string(ReasonCloseInProgress)).Inc()
		return blocked(ReasonCloseInProgress, "a close for this symbol is already in progress"), nil
	}
	defer e.locks.Release(ctx, symbol, lock.PurposeClose)

	pos, err := e.store.Positions().GetOpen(ctx, symbol)
	if err == store.ErrNotFound {
		// Likely already reconciled by an earlier duplicate.
		metrics.RejectedTotal.WithLabelValues(string(ReasonNoPosition)).Inc()
		return rejected(ReasonNoPosition, "no open position for "+symbol), nil
	}
	if err != nil {
		return nil, err
	}

	now := e.now()
	closedQty := pos.Quantity
	cancelled := 0

	err = e.store.Atomic(ctx, func(st store.Store) error {
		pos.Quantity = 0
		pos.ClosedAt = &now
		if err := st.Positions().Update(ctx, pos); err != nil {
			return err
		}

		if err := e.applyCooldown(ctx, st, symbol); err != nil {
			return err
		}

		// Every in-flight execution for the symbol is now stale; a
		// pending order firing against a closed position must never
		// happen.
		open, err := st.Executions().ListOpen(ctx, symbol)
		if err != nil {
			return err
		}
		for _, ex := range open {
			ex.Status = store.ExecCancelled
			ex.UpdatedAt = now
			if err := st.Executions().Update(ctx, ex); err != nil {
				return err
			}
			cancelled++
		}

		return st.Audit().Append(ctx, "stop_loss_reconciled", symbol, map[string]any{
			"position_id":                  pos.ID,
			"stop_price":                   sig.StopPrice,
			"closed_quantity":              closedQty,
			"side":                         pos.Side,
			"entry_price":                  pos.EntryPrice,
			"cancelled_pending_executions": cancelled,
		})
	})
	if err != nil {
		return nil, err
	}

	for i := 0; i < cancelled; i++ {
		metrics.ExecutionsTotal.WithLabelValues(string(store.ExecCancelled)).Inc()
	}

	e.notifier.Notify("stop_loss", symbol, map[string]any{
		"position_id":     pos.ID,
		"stop_price":      sig.StopPrice,
		"closed_quantity": closedQty,
	})

	log.Info().
		Str("symbol", symbol).
		Str("position_id", pos.ID).
		Float64("stop_price", sig.StopPrice).
		Int("cancelled_executions", cancelled).
		Msg("stop loss reconciled")

	return &Result{Outcome: OutcomeAccepted, PositionID: pos.ID}, nil
}
