package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/lock"
	"github.com/sawpanic/tradegate/internal/metrics"
	"github.com/sawpanic/tradegate/internal/signal"
	"github.com/sawpanic/tradegate/internal/store"
)

// handleExit closes (fully or partially) the open position for an EXIT
// signal. The newest EXIT always supersedes an older queued EXIT for
// the same position.
func (e *Engine) handleExit(ctx context.Context, sig *signal.ExitSignal) (*Result, error) {
	symbol := sig.Instrument()

	ok, err := e.locks.Acquire(ctx, symbol, lock.PurposeClose, e.cfg.CloseLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.LockContentionTotal.WithLabelValues(string(lock.PurposeClose)).Inc()
		metrics.RejectedTotal.WithLabelValues(string(ReasonCloseInProgress)).Inc()
		e.audit(ctx, "duplicate_exit_detected", symbol, map[string]any{
			"reason": "position close already in progress",
		})
		return blocked(ReasonCloseInProgress, "a close for this symbol is already in progress"), nil
	}
	defer e.locks.Release(ctx, symbol, lock.PurposeClose)

	now := e.now()

	pos, err := e.store.Positions().GetOpen(ctx, symbol)
	if err == store.ErrNotFound {
		metrics.RejectedTotal.WithLabelValues(string(ReasonNoPosition)).Inc()
		return rejected(ReasonNoPosition, "no open position for "+symbol), nil
	}
	if err != nil {
		return nil, err
	}

	// Replacement rule: cancel a queued EXIT for the same position
	// before creating the new one.
	replacedID := ""
	if stale, err := e.store.Executions().PendingExitFor(ctx, symbol, pos.ID); err == nil {
		stale.Status = store.ExecCancelled
		stale.UpdatedAt = now
		if err := e.store.Executions().Update(ctx, stale); err != nil {
			return nil, err
		}
		replacedID = stale.ID
		metrics.ExecutionsTotal.WithLabelValues(string(store.ExecCancelled)).Inc()
	} else if err != store.ErrNotFound {
		return nil, err
	}

	// Exit direction is the inverse of the position's side; quantity
	// defaults to the full position and never exceeds it.
	action := store.ActionSell
	direction := store.Short
	if pos.Side == store.Short {
		action = store.ActionBuy
		direction = store.Long
	}
	quantity := sig.Quantity
	if quantity <= 0 || quantity > pos.Quantity {
		quantity = pos.Quantity
	}

	exec := &store.Execution{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Direction:  direction,
		Action:     action,
		Quantity:   quantity,
		LimitPrice: sig.LimitPrice,
		Status:     store.ExecPending,
		RawPayload: tagExitPayload(sig.Payload(), pos.ID),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Receipt goes out as soon as the exit is validated, before any
	// delay or broker contact.
	e.notifier.Notify("exit_received", symbol, map[string]any{
		"execution_id": exec.ID,
		"position_id":  pos.ID,
		"quantity":     quantity,
	})

	immediate := e.cfg.ExitDelaySeconds <= 0 || e.Mode() == config.ModeFull
	if immediate {
		exec.Status = store.ExecExecuting
	} else {
		due := now.Add(time.Duration(e.cfg.ExitDelaySeconds) * time.Second)
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

	auditEvent := "exit_created"
	detail := map[string]any{
		"execution_id": exec.ID,
		"position_id":  pos.ID,
		"quantity":     quantity,
		"status":       exec.Status,
		"delay_until":  exec.DelayUntil,
	}
	if replacedID != "" {
		auditEvent = "exit_replaced"
		detail["replaced_execution_id"] = replacedID
	}
	e.audit(ctx, auditEvent, symbol, detail)

	log.Info().
		Str("symbol", symbol).
		Str("execution_id", exec.ID).
		Str("position_id", pos.ID).
		Float64("quantity", quantity).
		Bool("immediate", immediate).
		Msg("exit signal processed")

	return &Result{
		Outcome:     OutcomeAccepted,
		ExecutionID: exec.ID,
		PositionID:  pos.ID,
		Updated:     replacedID != "",
	}, nil
}

// tagExitPayload stamps the stored payload with the event tag and the
// target position so the scheduler and replacement rule can identify
// it later.
func tagExitPayload(raw json.RawMessage, positionID string) json.RawMessage {
	fields := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &fields)
	}
	fields["event"] = "EXIT"
	fields["position_id"] = positionID
	tagged, err := json.Marshal(fields)
	if err != nil {
		return raw
	}
	return tagged
}
