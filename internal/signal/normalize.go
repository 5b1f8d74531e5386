package signal

import (
	"encoding/json"
	"strings"

	"github.com/sawpanic/tradegate/internal/store"
)

// rawAlert covers every field alias the charting sources are known to
// send. All resolution into canonical values happens in Parse.
type rawAlert struct {
	Event string `json:"event"`
	Type  string `json:"type"` // legacy alias for event

	Ticker string `json:"ticker"`
	Symbol string `json:"symbol"` // alias for ticker

	Direction   string `json:"direction"`
	Action      string `json:"action"`
	OrderAction string `json:"order_action"` // alias for action

	Price      *float64 `json:"price"`
	PriceTicks *int64   `json:"price_ticks"` // fixed-point encoding
	TickSize   *float64 `json:"tick_size"`
	LimitPrice *float64 `json:"limit_price"`
	Quantity   *float64 `json:"quantity"`
	StopPrice  *float64 `json:"stop_price"`

	StrategyID string          `json:"strategy_id"`
	Timeframe  string          `json:"timeframe"`
	Gates      map[string]bool `json:"gates"`
	Intent     map[string]any  `json:"intent"`

	// Legacy explicit scoring fields.
	GatesHit     *int `json:"gates_hit"`
	GatesTotal   *int `json:"gates_total"`
	QualityScore *int `json:"quality_score"`
}

// eventKinds is the closed mapping of accepted event tags. Anything
// else is rejected outright; classification is never inferred from
// payload shape.
var eventKinds = map[string]Kind{
	"WALL":     KindWall,
	"SIGNAL":   KindWall,
	"ORDER":    KindOrder,
	"ENTRY":    KindOrder,
	"EXIT":     KindExit,
	"SL_HIT":   KindStopLoss,
	"STOPLOSS": KindStopLoss,
}

// Parse validates and classifies one inbound payload. The returned
// Signal carries the verbatim raw payload for audit storage.
func Parse(raw []byte) (Signal, error) {
	var alert rawAlert
	if err := json.Unmarshal(raw, &alert); err != nil {
		return nil, &ValidationError{Kind: InvalidValue, Field: "payload", Msg: err.Error()}
	}

	event := alert.Event
	if event == "" {
		event = alert.Type
	}
	if event == "" {
		return nil, &ValidationError{Kind: MissingField, Field: "event", Msg: "payload carries no event or type field"}
	}
	kind, ok := eventKinds[strings.ToUpper(event)]
	if !ok {
		return nil, &ValidationError{Kind: UnknownEvent, Field: "event", Msg: "unrecognized event " + event}
	}

	symbol := alert.Ticker
	if symbol == "" {
		symbol = alert.Symbol
	}
	if symbol == "" {
		return nil, &ValidationError{Kind: MissingField, Field: "ticker", Msg: "payload carries no ticker or symbol field"}
	}

	b := base{Symbol: strings.ToUpper(symbol), Raw: json.RawMessage(raw)}

	switch kind {
	case KindWall:
		return parseWall(b, &alert)
	case KindOrder:
		return parseOrder(b, &alert)
	case KindExit:
		sig := &ExitSignal{base: b, LimitPrice: alert.LimitPrice}
		if alert.Quantity != nil {
			if *alert.Quantity < 0 {
				return nil, &ValidationError{Kind: InvalidValue, Field: "quantity", Msg: "quantity must not be negative"}
			}
			sig.Quantity = *alert.Quantity
		}
		return sig, nil
	default:
		sig := &StopLossSignal{base: b}
		if alert.StopPrice != nil {
			sig.StopPrice = *alert.StopPrice
		} else {
			sig.StopPrice = resolvePrice(&alert)
		}
		return sig, nil
	}
}

func parseWall(b base, alert *rawAlert) (*WallSignal, error) {
	dir, err := resolveDirection(alert)
	if err != nil {
		return nil, err
	}
	sig := &WallSignal{
		base:        b,
		Direction:   dir,
		Price:       resolvePrice(alert),
		StrategyID:  alert.StrategyID,
		Timeframe:   alert.Timeframe,
		Gates:       alert.Gates,
		LegacyHit:   alert.GatesHit,
		LegacyTotal: alert.GatesTotal,
		LegacyScore: alert.QualityScore,
	}
	if cs, ok := alert.Intent["card_state"].(string); ok {
		sig.CardState = cs
	}
	return sig, nil
}

func parseOrder(b base, alert *rawAlert) (*OrderSignal, error) {
	dir, err := resolveDirection(alert)
	if err != nil {
		return nil, err
	}
	sig := &OrderSignal{
		base:       b,
		Direction:  dir,
		Price:      resolvePrice(alert),
		LimitPrice: alert.LimitPrice,
	}
	switch strings.ToLower(resolveAction(alert)) {
	case "buy":
		sig.Action = store.ActionBuy
	case "sell":
		sig.Action = store.ActionSell
	case "":
	default:
		return nil, &ValidationError{Kind: InvalidValue, Field: "order_action", Msg: "order action must be buy or sell"}
	}
	if alert.Quantity != nil {
		if *alert.Quantity <= 0 {
			return nil, &ValidationError{Kind: InvalidValue, Field: "quantity", Msg: "quantity must be positive"}
		}
		sig.Quantity = *alert.Quantity
	}
	return sig, nil
}

// resolveDirection takes the explicit direction field when present and
// otherwise infers it from the buy/sell action.
func resolveDirection(alert *rawAlert) (store.Direction, error) {
	switch strings.ToLower(alert.Direction) {
	case "long":
		return store.Long, nil
	case "short":
		return store.Short, nil
	case "":
	default:
		return "", &ValidationError{Kind: InvalidValue, Field: "direction", Msg: "direction must be Long or Short"}
	}
	switch strings.ToLower(resolveAction(alert)) {
	case "buy":
		return store.Long, nil
	case "sell":
		return store.Short, nil
	}
	return "", nil
}

func resolveAction(alert *rawAlert) string {
	if alert.Action != "" {
		return alert.Action
	}
	return alert.OrderAction
}

// resolvePrice reconstructs a price from the fixed-point tick encoding
// when both tick fields are present, else falls back to the direct
// decimal field, else 0.
func resolvePrice(alert *rawAlert) float64 {
	if alert.PriceTicks != nil && alert.TickSize != nil {
		return float64(*alert.PriceTicks) * *alert.TickSize
	}
	if alert.Price != nil {
		return *alert.Price
	}
	return 0
}
