package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/lock"
	"github.com/sawpanic/tradegate/internal/store"
)

// executionLock picks the symbol lock a pending execution must be
// fired or mutated under: exit fills contend with EXIT/SL_HIT and
// mark-flat for the close lock, entry fills with the ORDER handler
// for the order lock.
func (e *Engine) executionLock(exec *store.Execution) (lock.Purpose, time.Duration) {
	if _, isExit := readExitTag(exec); isExit {
		return lock.PurposeClose, e.cfg.CloseLockTTL
	}
	return lock.PurposeOrder, e.cfg.OrderLockTTL
}

// RunDue fires every pending execution whose delay window has elapsed.
// Called by the scheduler runner on each poll or activation. Returns
// the number of executions fired.
func (e *Engine) RunDue(ctx context.Context) (int, error) {
	due, err := e.store.Executions().ListDue(ctx, e.now())
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, exec := range due {
		// A contended symbol is retried next poll.
		purpose, ttl := e.executionLock(exec)
		ok, err := e.locks.Acquire(ctx, exec.Symbol, purpose, ttl)
		if err != nil {
			return fired, err
		}
		if !ok {
			continue
		}
		err = e.fireDue(ctx, exec)
		e.locks.Release(ctx, exec.Symbol, purpose)
		if err != nil {
			return fired, err
		}
		fired++
	}
	return fired, nil
}

func (e *Engine) fireDue(ctx context.Context, exec *store.Execution) error {
	// Re-read under the lock; the execution may have been cancelled or
	// forced since the due scan.
	current, err := e.store.Executions().GetByID(ctx, exec.ID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return err
	}
	if current.Status != store.ExecPending {
		return nil
	}

	if err := e.executeNow(ctx, e.store, current); err != nil {
		return err
	}

	e.audit(ctx, "delayed_execution_fired", current.Symbol, map[string]any{
		"execution_id": current.ID,
	})
	e.notifier.Notify("order_executed", current.Symbol, map[string]any{
		"execution_id": current.ID,
		"action":       current.Action,
		"quantity":     current.Quantity,
	})

	log.Info().
		Str("symbol", current.Symbol).
		Str("execution_id", current.ID).
		Msg("delayed execution fired")
	return nil
}
