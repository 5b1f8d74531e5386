// Package signal normalizes heterogeneous inbound alert payloads into
// one canonical, strictly-typed signal per event kind. Payloads are
// never passed around as untyped maps beyond the parse boundary.
package signal

import (
	"encoding/json"
	"fmt"

	"github.com/sawpanic/tradegate/internal/store"
)

// Kind is the closed enumeration of signal types.
type Kind string

const (
	KindWall     Kind = "WALL"
	KindOrder    Kind = "ORDER"
	KindExit     Kind = "EXIT"
	KindStopLoss Kind = "SL_HIT"
)

// ErrorKind classifies a validation rejection.
type ErrorKind string

const (
	MissingField ErrorKind = "missing_field"
	InvalidValue ErrorKind = "invalid_value"
	UnknownEvent ErrorKind = "unknown_event"
)

// ValidationError rejects a payload before any lock or write.
type ValidationError struct {
	Kind  ErrorKind
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s: %s", e.Kind, e.Field, e.Msg)
}

// Signal is one parsed inbound alert.
type Signal interface {
	Kind() Kind
	Instrument() string
	Payload() json.RawMessage
}

type base struct {
	Symbol string
	Raw    json.RawMessage
}

func (b base) Instrument() string       { return b.Symbol }
func (b base) Payload() json.RawMessage { return b.Raw }

// WallSignal is a candidate trade proposal requiring human disposition.
type WallSignal struct {
	base
	Direction  store.Direction
	Price      float64
	StrategyID string
	Timeframe  string
	CardState  string
	Gates      map[string]bool
	// Legacy explicit scoring fields, used only when Gates is absent.
	LegacyHit   *int
	LegacyTotal *int
	LegacyScore *int
}

func (WallSignal) Kind() Kind { return KindWall }

// OrderSignal requests direct execution, bypassing WALL review.
type OrderSignal struct {
	base
	Direction  store.Direction
	Action     store.OrderAction // empty when only a direction was sent
	Quantity   float64
	Price      float64
	LimitPrice *float64
}

func (OrderSignal) Kind() Kind { return KindOrder }

// ExitSignal requests full or partial closure of an open position.
type ExitSignal struct {
	base
	Quantity   float64 // 0 means full position
	LimitPrice *float64
}

func (ExitSignal) Kind() Kind { return KindExit }

// StopLossSignal reports a broker-side stop that already executed;
// it triggers local reconciliation only.
type StopLossSignal struct {
	base
	StopPrice float64
}

func (StopLossSignal) Kind() Kind { return KindStopLoss }
