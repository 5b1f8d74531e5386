package engine

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/metrics"
	"github.com/sawpanic/tradegate/internal/store"
)

// exitTag is the portion of an execution's raw payload that marks it
// as a position close.
type exitTag struct {
	Event      string `json:"event"`
	PositionID string `json:"position_id"`
}

func readExitTag(exec *store.Execution) (exitTag, bool) {
	var tag exitTag
	if len(exec.RawPayload) == 0 {
		return tag, false
	}
	if err := json.Unmarshal(exec.RawPayload, &tag); err != nil {
		return tag, false
	}
	return tag, tag.Event == "EXIT"
}

// executeNow forwards one execution to the broker and applies the
// position bookkeeping. Local state is authoritative: a broker failure
// is recorded on the execution but it still transitions to executed.
func (e *Engine) executeNow(ctx context.Context, st store.Store, exec *store.Execution) error {
	now := e.now()

	if exec.Status != store.ExecExecuting {
		exec.Status = store.ExecExecuting
		exec.UpdatedAt = now
		if err := st.Executions().Update(ctx, exec); err != nil {
			return err
		}
	}

	if err := e.fwd.Forward(ctx, exec); err != nil {
		exec.ErrorMessage = err.Error()
		log.Error().Err(err).
			Str("symbol", exec.Symbol).
			Str("execution_id", exec.ID).
			Msg("broker forward failed; recording error on execution")
	}

	executedAt := e.now()
	exec.Status = store.ExecExecuted
	exec.ExecutedAt = &executedAt
	exec.DelayUntil = nil
	exec.UpdatedAt = executedAt
	if err := st.Executions().Update(ctx, exec); err != nil {
		return err
	}
	metrics.ExecutionsTotal.WithLabelValues(string(store.ExecExecuted)).Inc()

	if tag, isExit := readExitTag(exec); isExit {
		return e.applyExitFill(ctx, st, exec, tag)
	}
	return e.applyEntryFill(ctx, st, exec)
}

// applyEntryFill creates or extends the position for a filled entry.
func (e *Engine) applyEntryFill(ctx context.Context, st store.Store, exec *store.Execution) error {
	now := e.now()

	side := store.Long
	if exec.Action == store.ActionSell {
		side = store.Short
	}
	entryPrice := 0.0
	if exec.LimitPrice != nil {
		entryPrice = *exec.LimitPrice
	}

	pos, err := st.Positions().GetOpen(ctx, exec.Symbol)
	if err == store.ErrNotFound {
		pos = &store.Position{
			ID:         exec.ID, // first fill keys the position to its execution
			Symbol:     exec.Symbol,
			Side:       side,
			Quantity:   exec.Quantity,
			EntryPrice: entryPrice,
			OpenedAt:   now,
		}
		return st.Positions().Create(ctx, pos)
	}
	if err != nil {
		return err
	}

	if pos.Side == side {
		pos.Quantity += exec.Quantity
	} else {
		pos.Quantity -= exec.Quantity
		if pos.Quantity <= 0 {
			return e.closePosition(ctx, st, pos, false)
		}
	}
	return st.Positions().Update(ctx, pos)
}

// applyExitFill reduces or closes the position an exit execution
// targets. Fully closing applies the re-entry cooldown.
func (e *Engine) applyExitFill(ctx context.Context, st store.Store, exec *store.Execution, tag exitTag) error {
	pos, err := st.Positions().GetByID(ctx, tag.PositionID)
	if err == store.ErrNotFound {
		// Position already reconciled elsewhere; nothing to reduce.
		log.Warn().
			Str("symbol", exec.Symbol).
			Str("position_id", tag.PositionID).
			Msg("exit fill for a position that no longer exists")
		return nil
	}
	if err != nil {
		return err
	}
	if !pos.Open() {
		return nil
	}

	pos.Quantity -= exec.Quantity
	if pos.Quantity <= 0 {
		if err := e.closePosition(ctx, st, pos, true); err != nil {
			return err
		}
		e.notifier.Notify("position_closed", pos.Symbol, map[string]any{
			"position_id":  pos.ID,
			"execution_id": exec.ID,
		})
		return nil
	}
	return st.Positions().Update(ctx, pos)
}

// closePosition zeroes out and closes a position; cooldown optionally
// blocks immediate re-entry on the ticker gate.
func (e *Engine) closePosition(ctx context.Context, st store.Store, pos *store.Position, cooldown bool) error {
	now := e.now()
	if pos.Quantity < 0 {
		pos.Quantity = 0
	}
	pos.ClosedAt = &now
	if err := st.Positions().Update(ctx, pos); err != nil {
		return err
	}
	if cooldown {
		return e.applyCooldown(ctx, st, pos.Symbol)
	}
	return nil
}

// applyCooldown time-boxes the ticker gate so a close is not followed
// by an immediate re-entry.
func (e *Engine) applyCooldown(ctx context.Context, st store.Store, symbol string) error {
	now := e.now()
	until := now.Add(e.cfg.CloseCooldown)

	cfg, err := st.Tickers().Get(ctx, symbol)
	if err == store.ErrNotFound {
		cfg = &store.TickerConfig{Symbol: symbol, Enabled: true}
	} else if err != nil {
		return err
	}
	cfg.BlockedUntil = &until
	cfg.UpdatedAt = now
	return st.Tickers().Upsert(ctx, cfg)
}
