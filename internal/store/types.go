package store

import (
	"encoding/json"
	"time"
)

// Direction is the trade side a signal proposes.
type Direction string

const (
	Long  Direction = "Long"
	Short Direction = "Short"
)

// OrderAction is the broker-level action derived from a direction.
type OrderAction string

const (
	ActionBuy  OrderAction = "buy"
	ActionSell OrderAction = "sell"
)

// IntentStatus tracks the human-disposition state of a trade intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSwipedOn  IntentStatus = "swiped_on"
	IntentDenied    IntentStatus = "swiped_deny"
	IntentSwipedOff IntentStatus = "swiped_off"
	IntentCancelled IntentStatus = "cancelled"
)

// ExecStatus tracks the broker-order lifecycle.
type ExecStatus string

const (
	ExecPending   ExecStatus = "pending"
	ExecExecuting ExecStatus = "executing"
	ExecExecuted  ExecStatus = "executed"
	ExecCancelled ExecStatus = "cancelled"
	ExecFailed    ExecStatus = "failed"
)

// TradeIntent is a candidate signal awaiting human disposition.
type TradeIntent struct {
	ID             string          `json:"id" db:"id"`
	Symbol         string          `json:"symbol" db:"symbol"`
	Direction      Direction       `json:"direction" db:"direction"`
	Price          float64         `json:"price" db:"price"`
	StrategyID     string          `json:"strategy_id,omitempty" db:"strategy_id"`
	Timeframe      string          `json:"timeframe,omitempty" db:"timeframe"`
	GatesHit       int             `json:"gates_hit" db:"gates_hit"`
	GatesTotal     int             `json:"gates_total" db:"gates_total"`
	Confidence     float64         `json:"confidence" db:"confidence"`
	QualityTier    string          `json:"quality_tier" db:"quality_tier"`
	QualityScore   int             `json:"quality_score" db:"quality_score"`
	CardState      string          `json:"card_state,omitempty" db:"card_state"`
	Status         IntentStatus    `json:"status" db:"status"`
	PrimaryBlocker string          `json:"primary_blocker,omitempty" db:"primary_blocker"`
	RawPayload     json.RawMessage `json:"raw_payload" db:"raw_payload"`
	ExpiresAt      time.Time       `json:"expires_at" db:"expires_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Execution is a concrete broker-bound order request.
type Execution struct {
	ID           string          `json:"id" db:"id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Direction    Direction       `json:"direction" db:"direction"`
	Action       OrderAction     `json:"action" db:"action"`
	Quantity     float64         `json:"quantity" db:"quantity"`
	LimitPrice   *float64        `json:"limit_price,omitempty" db:"limit_price"`
	Status       ExecStatus      `json:"status" db:"status"`
	DelayUntil   *time.Time      `json:"delay_until,omitempty" db:"delay_until"`
	ExecutedAt   *time.Time      `json:"executed_at,omitempty" db:"executed_at"`
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`
	IntentID     *string         `json:"intent_id,omitempty" db:"intent_id"`
	RawPayload   json.RawMessage `json:"raw_payload" db:"raw_payload"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Due reports whether the execution's delay window has elapsed.
// A nil DelayUntil means the execution was already due at creation.
func (e *Execution) Due(now time.Time) bool {
	return e.DelayUntil == nil || !e.DelayUntil.After(now)
}

// Position is the net open exposure for one instrument.
type Position struct {
	ID         string     `json:"id" db:"id"`
	Symbol     string     `json:"symbol" db:"symbol"`
	Side       Direction  `json:"side" db:"side"`
	Quantity   float64    `json:"quantity" db:"quantity"`
	EntryPrice float64    `json:"entry_price" db:"entry_price"`
	OpenedAt   time.Time  `json:"opened_at" db:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// Open reports whether the position still carries exposure.
func (p *Position) Open() bool { return p.ClosedAt == nil }

// TickerConfig is the per-instrument gating policy.
type TickerConfig struct {
	Symbol        string     `json:"symbol" db:"symbol"`
	Enabled       bool       `json:"enabled" db:"enabled"`
	AlertsBlocked bool       `json:"alerts_blocked" db:"alerts_blocked"`
	BlockedUntil  *time.Time `json:"blocked_until,omitempty" db:"blocked_until"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// OrderBlocked reports whether new orders for the ticker are blocked,
// either by the enable switch or by an unexpired time-boxed block.
func (t *TickerConfig) OrderBlocked(now time.Time) bool {
	if t == nil {
		return false
	}
	if !t.Enabled {
		return true
	}
	return t.BlockedUntil != nil && t.BlockedUntil.After(now)
}

// AlertBlocked reports whether WALL alerts for the ticker are muted.
// This axis is independent from order blocking.
func (t *TickerConfig) AlertBlocked() bool {
	return t != nil && t.AlertsBlocked
}

// AuditEntry is one append-only record of a state transition.
type AuditEntry struct {
	ID        int64          `json:"id" db:"id"`
	EventType string         `json:"event_type" db:"event_type"`
	Symbol    string         `json:"symbol,omitempty" db:"symbol"`
	Detail    map[string]any `json:"detail" db:"detail"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}
