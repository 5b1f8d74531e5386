package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/lock"
	"github.com/sawpanic/tradegate/internal/metrics"
	"github.com/sawpanic/tradegate/internal/signal"
	"github.com/sawpanic/tradegate/internal/store"
)

// handleOrder runs the ordered rejection checks for an ORDER signal
// and, when they all pass, creates the execution: immediate in full
// mode, delayed under scheduler ownership in safe mode.
func (e *Engine) handleOrder(ctx context.Context, sig *signal.OrderSignal) (*Result, error) {
	symbol := sig.Instrument()

	action := sig.Action
	if action == "" {
		switch sig.Direction {
		case store.Long:
			action = store.ActionBuy
		case store.Short:
			action = store.ActionSell
		default:
			return nil, &signal.ValidationError{
				Kind: signal.MissingField, Field: "direction",
				Msg: "ORDER signal requires a direction or an order action",
			}
		}
	}
	direction := sig.Direction
	if direction == "" {
		if action == store.ActionBuy {
			direction = store.Long
		} else {
			direction = store.Short
		}
	}

	ok, err := e.locks.Acquire(ctx, symbol, lock.PurposeOrder, e.cfg.OrderLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.LockContentionTotal.WithLabelValues(string(lock.PurposeOrder)).Inc()
		metrics.RejectedTotal.WithLabelValues(string(ReasonSymbolLocked)).Inc()
		return blocked(ReasonSymbolLocked, "duplicate ORDER signal already in flight"), nil
	}
	defer e.locks.Release(ctx, symbol, lock.PurposeOrder)

	now := e.now()

	if res, err := e.checkOrderPolicy(ctx, symbol, now); res != nil || err != nil {
		return res, err
	}

	quantity := sig.Quantity
	if quantity == 0 {
		quantity = 1
	}

	exec := &store.Execution{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Direction:  direction,
		Action:     action,
		Quantity:   quantity,
		LimitPrice: sig.LimitPrice,
		Status:     store.ExecPending,
		RawPayload: sig.Payload(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Auto-link to the reviewable intent for this symbol, if any.
	autoLinked := false
	autoApproved := false
	intent, err := e.store.Intents().Latest(ctx, symbol,
		[]store.IntentStatus{store.IntentPending, store.IntentSwipedOn}, now)
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	if err == nil {
		exec.IntentID = &intent.ID
		autoLinked = true
		if e.Mode() == config.ModeFull && intent.Status == store.IntentPending {
			intent.Status = store.IntentSwipedOn
			intent.UpdatedAt = now
			if err := e.store.Intents().Update(ctx, intent); err != nil {
				return nil, err
			}
			autoApproved = true
		}
	}

	immediate := e.Mode() == config.ModeFull
	if immediate {
		exec.Status = store.ExecExecuting
	} else {
		delay := time.Duration(e.cfg.DefaultDelayBars*e.cfg.BarMinutes) * time.Minute
		due := now.Add(delay)
		exec.DelayUntil = &due
	}

	if err := e.store.Executions().Create(ctx, exec); err != nil {
		return nil, err
	}

	if immediate {
		if err := e.executeNow(ctx, e.store, exec); err != nil {
			return nil, err
		}
	} else {
		e.sched.Activate()
		metrics.ExecutionsTotal.WithLabelValues(string(store.ExecPending)).Inc()
	}

	e.audit(ctx, "order_created", symbol, map[string]any{
		"execution_id":  exec.ID,
		"action":        exec.Action,
		"quantity":      exec.Quantity,
		"status":        exec.Status,
		"delay_until":   exec.DelayUntil,
		"auto_linked":   autoLinked,
		"auto_approved": autoApproved,
		"mode":          e.Mode(),
	})

	e.notifier.Notify("order_created", symbol, map[string]any{
		"execution_id": exec.ID,
		"action":       exec.Action,
		"quantity":     exec.Quantity,
		"status":       exec.Status,
	})

	log.Info().
		Str("symbol", symbol).
		Str("execution_id", exec.ID).
		Str("status", string(exec.Status)).
		Bool("auto_linked", autoLinked).
		Msg("order signal processed")

	return &Result{
		Outcome:      OutcomeAccepted,
		ExecutionID:  exec.ID,
		AutoLinked:   autoLinked,
		AutoApproved: autoApproved,
	}, nil
}

// checkOrderPolicy runs the short-circuiting policy checks for an
// entry order. A non-nil Result means blocked.
func (e *Engine) checkOrderPolicy(ctx context.Context, symbol string, now time.Time) (*Result, error) {
	ticker, err := e.ticker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if ticker.OrderBlocked(now) {
		metrics.RejectedTotal.WithLabelValues(string(ReasonTickerBlocked)).Inc()
		return blocked(ReasonTickerBlocked, "ticker is disabled or cooling down"), nil
	}

	// An ORDER is an entry; entries require no existing exposure.
	if _, err := e.store.Positions().GetOpen(ctx, symbol); err == nil {
		metrics.RejectedTotal.WithLabelValues(string(ReasonPositionExists)).Inc()
		return blocked(ReasonPositionExists, "an open position already exists"), nil
	} else if err != store.ErrNotFound {
		return nil, err
	}

	open, err := e.store.Executions().ListOpen(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		metrics.RejectedTotal.WithLabelValues(string(ReasonPendingExecution)).Inc()
		return blocked(ReasonPendingExecution, "an execution is already in flight"), nil
	}

	// A prior explicit rejection by the user blocks re-entry until the
	// intent expires.
	_, err = e.store.Intents().Latest(ctx, symbol,
		[]store.IntentStatus{store.IntentDenied, store.IntentSwipedOff}, now)
	if err == nil {
		metrics.RejectedTotal.WithLabelValues(string(ReasonIntentDenied)).Inc()
		return blocked(ReasonIntentDenied, "intent for this symbol was rejected"), nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}
	return nil, nil
}
