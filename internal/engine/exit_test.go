package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/lock"
	"github.com/sawpanic/tradegate/internal/store"
)

const exitAAPL = `{"event": "EXIT", "ticker": "AAPL"}`

func TestExitWithoutPositionRejected(t *testing.T) {
	rig := newTestRig(config.ModeSafe)

	res := rig.process(t, exitAAPL)

	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, ReasonNoPosition, res.Reason)
}

func TestExitReceiptSentBeforeExecution(t *testing.T) {
	rig := newTestRig(config.ModeSafe)
	rig.openPosition(t, "AAPL", store.Long, 50, 180)

	res := rig.process(t, exitAAPL)

	require.Equal(t, OutcomeAccepted, res.Outcome)
	assert.True(t, rig.notifier.has("exit_received"))
	// Safe mode with a 10s delay: queued, not yet forwarded.
	assert.Equal(t, 0, rig.fwd.count())

	exec, err := rig.store.Executions().GetByID(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, store.ExecPending, exec.Status)
	require.NotNil(t, exec.DelayUntil)
	assert.Equal(t, rig.clock.Now().Add(10*time.Second), *exec.DelayUntil)
	assert.Equal(t, 1, rig.sched.count())
}

func TestExitInvertsPositionSide(t *testing.T) {
	rig := newTestRig(config.ModeSafe)
	rig.openPosition(t, "AAPL", store.Short, 50, 180)

	res := rig.process(t, exitAAPL)

	exec, err := rig.store.Executions().GetByID(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, store.ActionBuy, exec.Action, "closing a short buys back")
	assert.Equal(t, store.Long, exec.Direction)
	assert.Equal(t, 50.0, exec.Quantity)
}

func TestExitQuantityClampedToPosition(t *testing.T) {
	rig := newTestRig(config.ModeSafe)
	rig.openPosition(t, "AAPL", store.Long, 50, 180)

	res := rig.process(t, `{"event": "EXIT", "ticker": "AAPL", "quantity": 200}`)

	exec, err := rig.store.Executions().GetByID(context.Background(), res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, exec.Quantity, "oversized exit clamps to full position")
}

func TestExitReplacesQueuedExit(t *testing.T) {
	rig := newTestRig(config.ModeSafe)
	rig.openPosition(t, "AAPL", store.Long, 50, 180)

	first := rig.process(t, `{"event": "EXIT", "ticker": "AAPL", "quantity": 10}`)
	// Let the close lock lapse before the replacement arrives.
	rig.clock.Advance(6 * time.Second)
	second := rig.process(t, `{"event": "EXIT", "ticker": "AAPL", "quantity": 20}`)

	require.Equal(t, OutcomeAccepted, second.Outcome)
	assert.True(t, second.Updated)

	stale, err := rig.store.Executions().GetByID(context.Background(), first.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, store.ExecCancelled, stale.Status)

	entry := rig.lastAudit("exit_replaced")
	require.NotNil(t, entry)
	assert.Equal(t, first.ExecutionID, entry.Detail["replaced_execution_id"])
}

func TestExitBlockedWhileCloseInFlight(t *testing.T) {
	rig := newTestRig(config.ModeSafe)
	rig.openPosition(t, "AAPL", store.Long, 50, 180)
	ok, err := rig.locks.Acquire(context.Background(), "AAPL", lock.PurposeClose, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	res := rig.process(t, exitAAPL)

	assert.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Equal(t, ReasonCloseInProgress, res.Reason)
	assert.Equal(t, 1, rig.auditCount("duplicate_exit_detected"))
}

func TestExitPartialCloseKeepsPositionOpen(t *testing.T) {
	rig := newTestRig(config.ModeFull)
	pos := rig.openPosition(t, "AAPL", store.Long, 50, 180)

	res := rig.process(t, `{"event": "EXIT", "ticker": "AAPL", "quantity": 20}`)

	require.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, 1, rig.fwd.count(), "full mode fills immediately")

	got, err := rig.store.Positions().GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.True(t, got.Open())
	assert.Equal(t, 30.0, got.Quantity)

	cfg, err := rig.store.Tickers().Get(context.Background(), "AAPL")
	if err == nil {
		assert.Nil(t, cfg.BlockedUntil, "partial close applies no cooldown")
	}
}

func TestExitFullCloseAppliesCooldown(t *testing.T) {
	rig := newTestRig(config.ModeFull)
	pos := rig.openPosition(t, "AAPL", store.Long, 50, 180)

	res := rig.process(t, exitAAPL)

	require.Equal(t, OutcomeAccepted, res.Outcome)
	got, err := rig.store.Positions().GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.False(t, got.Open())
	assert.Equal(t, 0.0, got.Quantity)

	cfg, err := rig.store.Tickers().Get(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, cfg.BlockedUntil)
	assert.Equal(t, rig.clock.Now().Add(5*time.Minute), *cfg.BlockedUntil)

	assert.True(t, rig.notifier.has("position_closed"))
}

func TestExitZeroDelayExecutesInSafeMode(t *testing.T) {
	cfg := testEngineConfig()
	cfg.ExitDelaySeconds = 0
	rig := newRigWithConfig(cfg)
	rig.openPosition(t, "AAPL", store.Long, 50, 180)

	res := rig.process(t, exitAAPL)

	require.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, 1, rig.fwd.count(), "zero delay bypasses the scheduler")
	assert.Equal(t, 0, rig.sched.count())
}
