package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("store: not found")

// IntentRepo persists trade intents.
type IntentRepo interface {
	Create(ctx context.Context, intent *TradeIntent) error
	Update(ctx context.Context, intent *TradeIntent) error
	GetByID(ctx context.Context, id string) (*TradeIntent, error)

	// Latest returns the most recent unexpired intent for the symbol
	// whose status is in the given set, or ErrNotFound.
	Latest(ctx context.Context, symbol string, statuses []IntentStatus, now time.Time) (*TradeIntent, error)

	// ListActive returns all unexpired intents for the symbol with
	// status pending, swiped_on or cancelled, newest first.
	ListActive(ctx context.Context, symbol string, now time.Time) ([]*TradeIntent, error)
}

// ExecutionRepo persists broker-bound executions.
type ExecutionRepo interface {
	Create(ctx context.Context, exec *Execution) error
	Update(ctx context.Context, exec *Execution) error
	GetByID(ctx context.Context, id string) (*Execution, error)

	// ListOpen returns executions for the symbol with status pending
	// or executing, newest first.
	ListOpen(ctx context.Context, symbol string) ([]*Execution, error)

	// LatestUnlinked returns the most recent execution for the symbol
	// with no linked intent, created at or after since, with status in
	// pending/executing/executed, or ErrNotFound.
	LatestUnlinked(ctx context.Context, symbol string, since time.Time) (*Execution, error)

	// PendingExitFor returns a pending execution whose raw payload
	// tags it as an EXIT for the given position, or ErrNotFound.
	PendingExitFor(ctx context.Context, symbol, positionID string) (*Execution, error)

	// ListDue returns pending executions whose delay window has
	// elapsed at now, across all symbols, oldest first.
	ListDue(ctx context.Context, now time.Time) ([]*Execution, error)
}

// PositionRepo persists positions.
type PositionRepo interface {
	Create(ctx context.Context, pos *Position) error
	Update(ctx context.Context, pos *Position) error
	GetByID(ctx context.Context, id string) (*Position, error)

	// GetOpen returns the open position for the symbol, or ErrNotFound.
	// At most one open position exists per symbol.
	GetOpen(ctx context.Context, symbol string) (*Position, error)
}

// TickerRepo persists per-instrument gating policy.
type TickerRepo interface {
	// Get returns the ticker config for the symbol, or ErrNotFound
	// when the symbol has never been configured.
	Get(ctx context.Context, symbol string) (*TickerConfig, error)
	Upsert(ctx context.Context, cfg *TickerConfig) error

	// ResetBlocks clears blocked_until and alerts_blocked on every
	// ticker and re-enables them. Returns the number touched.
	ResetBlocks(ctx context.Context) (int, error)
}

// AuditRepo is the append-only audit sink. Entries are never read
// back by the engine itself.
type AuditRepo interface {
	Append(ctx context.Context, eventType, symbol string, detail map[string]any) error
}

// Store bundles the repositories behind one handle.
type Store interface {
	Intents() IntentRepo
	Executions() ExecutionRepo
	Positions() PositionRepo
	Tickers() TickerRepo
	Audit() AuditRepo

	// Atomic runs fn against a store view whose writes commit together
	// or not at all. Used only where cross-entity consistency is a hard
	// requirement (the stop-loss reconciliation path).
	Atomic(ctx context.Context, fn func(Store) error) error
}
