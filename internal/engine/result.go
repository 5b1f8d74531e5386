package engine

import "github.com/sawpanic/tradegate/internal/gates"

// Outcome is the handler-level disposition of one signal. Rejections
// and blocks are defined outcomes, not errors; callers branch on the
// outcome, never on error type.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeBlocked  Outcome = "blocked"
)

// Reason is the machine-readable code attached to non-accepted outcomes.
type Reason string

const (
	ReasonSymbolLocked     Reason = "symbol_locked"
	ReasonTickerBlocked    Reason = "ticker_blocked"
	ReasonAlertsBlocked    Reason = "alerts_blocked"
	ReasonPositionExists   Reason = "position_exists"
	ReasonPendingExecution Reason = "pending_execution_exists"
	ReasonIntentDenied     Reason = "intent_denied"
	ReasonNoPosition       Reason = "no_position"
	ReasonCloseInProgress  Reason = "close_in_progress"
)

// Result reports what a handler did with a signal.
type Result struct {
	Outcome      Outcome      `json:"outcome"`
	Reason       Reason       `json:"reason,omitempty"`
	Message      string       `json:"message,omitempty"`
	IntentID     string       `json:"intent_id,omitempty"`
	ExecutionID  string       `json:"execution_id,omitempty"`
	PositionID   string       `json:"position_id,omitempty"`
	Updated      bool         `json:"updated,omitempty"`
	AutoLinked   bool         `json:"auto_linked,omitempty"`
	AutoApproved bool         `json:"auto_approved,omitempty"`
	Score        *gates.Score `json:"score,omitempty"`
}

func rejected(reason Reason, msg string) *Result {
	return &Result{Outcome: OutcomeRejected, Reason: reason, Message: msg}
}

func blocked(reason Reason, msg string) *Result {
	return &Result{Outcome: OutcomeBlocked, Reason: reason, Message: msg}
}
