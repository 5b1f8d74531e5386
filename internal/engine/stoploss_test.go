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

const stopAAPL = `{"event": "SL_HIT", "ticker": "AAPL", "stop_price": 175.00}`

func TestStopLossReconcilesAtomically(t *testing.T) {
	rig := newTestRig(config.ModeSafe)
	pos := rig.openPosition(t, "AAPL", store.Long, 50, 180)
	first := rig.pendingExecution(t, "AAPL", `{"event": "ORDER", "ticker": "AAPL"}`)
	second := rig.pendingExecution(t, "AAPL", `{"event": "ORDER", "ticker": "AAPL"}`)

	res := rig.process(t, stopAAPL)

	require.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, pos.ID, res.PositionID)

	got, err := rig.store.Positions().GetByID(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.False(t, got.Open())
	assert.Equal(t, 0.0, got.Quantity)

	for _, id := range []string{first.ID, second.ID} {
		ex, err := rig.store.Executions().GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, store.ExecCancelled, ex.Status)
	}

	cfg, err := rig.store.Tickers().Get(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, cfg.BlockedUntil)
	assert.True(t, cfg.BlockedUntil.After(rig.clock.Now()))

	require.Equal(t, 1, rig.auditCount("stop_loss_reconciled"))
	entry := rig.lastAudit("stop_loss_reconciled")
	assert.Equal(t, 175.00, entry.Detail["stop_price"])
	assert.Equal(t, 50.0, entry.Detail["closed_quantity"])
	assert.Equal(t, 2, entry.Detail["cancelled_pending_executions"])
}

func TestStopLossNeverContactsBroker(t *testing.T) {
	rig := newTestRig(config.ModeFull)
	rig.openPosition(t, "AAPL", store.Long, 50, 180)

	res := rig.process(t, stopAAPL)

	require.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, 0, rig.fwd.count(), "the stop already executed broker-side")
	assert.True(t, rig.notifier.has("stop_loss"))
}

func TestStopLossWithoutPositionRejected(t *testing.T) {
	rig := newTestRig(config.ModeSafe)

	res := rig.process(t, stopAAPL)

	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, ReasonNoPosition, res.Reason)
	assert.Zero(t, rig.auditCount("stop_loss_reconciled"))
}

func TestStopLossBlockedWhileCloseInFlight(t *testing.T) {
	rig := newTestRig(config.ModeSafe)
	rig.openPosition(t, "AAPL", store.Long, 50, 180)
	ok, err := rig.locks.Acquire(context.Background(), "AAPL", lock.PurposeClose, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	res := rig.process(t, stopAAPL)

	assert.Equal(t, OutcomeBlocked, res.Outcome)
	assert.Equal(t, ReasonCloseInProgress, res.Reason)

	pos, err := rig.store.Positions().GetOpen(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, pos.Open(), "blocked duplicate leaves state untouched")
}

func TestStopLossDuplicateAfterReconcileRejected(t *testing.T) {
	rig := newTestRig(config.ModeSafe)
	rig.openPosition(t, "AAPL", store.Long, 50, 180)

	first := rig.process(t, stopAAPL)
	require.Equal(t, OutcomeAccepted, first.Outcome)

	rig.clock.Advance(6 * time.Second) // past the close lock TTL
	second := rig.process(t, stopAAPL)

	assert.Equal(t, OutcomeRejected, second.Outcome)
	assert.Equal(t, ReasonNoPosition, second.Reason)
	assert.Equal(t, 1, rig.auditCount("stop_loss_reconciled"))
}
