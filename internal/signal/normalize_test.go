package signal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/tradegate/internal/store"
)

func TestParseWall(t *testing.T) {
	raw := []byte(`{
		"event": "WALL", "ticker": "aapl", "direction": "Long",
		"price": 189.34, "strategy_id": "orb-5m", "timeframe": "5",
		"gates": {"vwap": true, "volume": true, "trend": false},
		"intent": {"card_state": "ARMED"}
	}`)

	sig, err := Parse(raw)
	require.NoError(t, err)

	wall, ok := sig.(*WallSignal)
	require.True(t, ok, "expected WallSignal, got %T", sig)
	assert.Equal(t, KindWall, wall.Kind())
	assert.Equal(t, "AAPL", wall.Instrument())
	assert.Equal(t, store.Long, wall.Direction)
	assert.Equal(t, 189.34, wall.Price)
	assert.Equal(t, "orb-5m", wall.StrategyID)
	assert.Equal(t, "ARMED", wall.CardState)
	assert.Len(t, wall.Gates, 3)
}

func TestParseLegacyTypeAlias(t *testing.T) {
	sig, err := Parse([]byte(`{"type": "SIGNAL", "symbol": "TSLA", "direction": "Short"}`))
	require.NoError(t, err)
	assert.Equal(t, KindWall, sig.Kind())
	assert.Equal(t, "TSLA", sig.Instrument())
}

func TestParseTickPriceReconstruction(t *testing.T) {
	sig, err := Parse([]byte(`{"event": "WALL", "ticker": "AAPL", "direction": "Long",
		"price_ticks": 18934, "tick_size": 0.01}`))
	require.NoError(t, err)
	assert.InDelta(t, 189.34, sig.(*WallSignal).Price, 1e-9)
}

func TestParseDirectPriceUnchanged(t *testing.T) {
	sig, err := Parse([]byte(`{"event": "WALL", "ticker": "AAPL", "direction": "Long", "price": 42.5}`))
	require.NoError(t, err)
	assert.Equal(t, 42.5, sig.(*WallSignal).Price)
}

func TestParseOrderInfersDirectionFromAction(t *testing.T) {
	sig, err := Parse([]byte(`{"event": "ENTRY", "ticker": "NVDA", "order_action": "sell", "quantity": 10}`))
	require.NoError(t, err)

	ord := sig.(*OrderSignal)
	assert.Equal(t, store.Short, ord.Direction)
	assert.Equal(t, store.ActionSell, ord.Action)
	assert.Equal(t, 10.0, ord.Quantity)
}

func TestParseMissingInstrument(t *testing.T) {
	_, err := Parse([]byte(`{"event": "ORDER", "direction": "Long"}`))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, MissingField, verr.Kind)
	assert.Equal(t, "ticker", verr.Field)
}

func TestParseMissingEvent(t *testing.T) {
	_, err := Parse([]byte(`{"ticker": "AAPL", "direction": "Long"}`))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, MissingField, verr.Kind)
}

func TestParseUnknownEventRejected(t *testing.T) {
	_, err := Parse([]byte(`{"event": "REBALANCE", "ticker": "AAPL"}`))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, UnknownEvent, verr.Kind)
}

func TestParseStopLoss(t *testing.T) {
	sig, err := Parse([]byte(`{"event": "STOPLOSS", "ticker": "AMD", "stop_price": 101.25}`))
	require.NoError(t, err)

	sl := sig.(*StopLossSignal)
	assert.Equal(t, KindStopLoss, sl.Kind())
	assert.Equal(t, 101.25, sl.StopPrice)
}

func TestParseExitPartialQuantity(t *testing.T) {
	sig, err := Parse([]byte(`{"event": "EXIT", "ticker": "AMD", "quantity": 25}`))
	require.NoError(t, err)
	assert.Equal(t, 25.0, sig.(*ExitSignal).Quantity)
}

func TestParseInvalidDirection(t *testing.T) {
	_, err := Parse([]byte(`{"event": "WALL", "ticker": "AAPL", "direction": "sideways"}`))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, InvalidValue, verr.Kind)
}
