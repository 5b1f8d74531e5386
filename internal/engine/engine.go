// Package engine orchestrates the signal handlers: webhook signals in,
// intent/execution/position/ticker transitions out. All entity writes
// happen under the appropriate (instrument, purpose) lock.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/broker"
	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/lock"
	"github.com/sawpanic/tradegate/internal/metrics"
	"github.com/sawpanic/tradegate/internal/notify"
	"github.com/sawpanic/tradegate/internal/signal"
	"github.com/sawpanic/tradegate/internal/store"
)

// Scheduler is the delayed-execution collaborator. Activate is a
// non-blocking nudge meaning "re-scan for due executions".
type Scheduler interface {
	Activate()
}

// Engine wires the handlers to their collaborators.
type Engine struct {
	store    store.Store
	locks    *lock.Service
	fwd      broker.Forwarder
	notifier notify.Notifier
	sched    Scheduler
	clock    lock.Clock
	cfg      config.EngineSection

	modeMu sync.RWMutex
	mode   config.ExecutionMode
}

// New creates an engine. A nil clock defaults to the system clock;
// nil notifier and scheduler default to no-ops.
func New(st store.Store, locks *lock.Service, fwd broker.Forwarder, notifier notify.Notifier, sched Scheduler, clock lock.Clock, cfg config.EngineSection) *Engine {
	if clock == nil {
		clock = lock.SystemClock()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if sched == nil {
		sched = noopScheduler{}
	}
	return &Engine{
		store:    st,
		locks:    locks,
		fwd:      fwd,
		notifier: notifier,
		sched:    sched,
		clock:    clock,
		cfg:      cfg,
		mode:     cfg.Mode,
	}
}

// SetScheduler attaches the runner after construction; the runner
// itself needs the engine for its due scans.
func (e *Engine) SetScheduler(sched Scheduler) {
	if sched != nil {
		e.sched = sched
	}
}

// Mode returns the current execution mode.
func (e *Engine) Mode() config.ExecutionMode {
	e.modeMu.RLock()
	defer e.modeMu.RUnlock()
	return e.mode
}

// SetMode switches between safe and full execution at runtime.
func (e *Engine) SetMode(mode config.ExecutionMode) error {
	if mode != config.ModeSafe && mode != config.ModeFull {
		return fmt.Errorf("invalid execution mode %q", mode)
	}
	e.modeMu.Lock()
	e.mode = mode
	e.modeMu.Unlock()
	return nil
}

// Process dispatches one parsed signal to its handler.
func (e *Engine) Process(ctx context.Context, sig signal.Signal) (*Result, error) {
	metrics.SignalsTotal.WithLabelValues(string(sig.Kind())).Inc()

	switch s := sig.(type) {
	case *signal.WallSignal:
		return e.handleWall(ctx, s)
	case *signal.OrderSignal:
		return e.handleOrder(ctx, s)
	case *signal.ExitSignal:
		return e.handleExit(ctx, s)
	case *signal.StopLossSignal:
		return e.handleStopLoss(ctx, s)
	default:
		return nil, fmt.Errorf("unhandled signal type %T", sig)
	}
}

func (e *Engine) now() time.Time { return e.clock.Now() }

// ticker returns the config for a symbol, or nil when the symbol has
// never been configured (an unconfigured ticker blocks nothing).
func (e *Engine) ticker(ctx context.Context, symbol string) (*store.TickerConfig, error) {
	cfg, err := e.store.Tickers().Get(ctx, symbol)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return cfg, nil
}

// audit appends one entry to the sink. Append failures are logged and
// do not fail the handler; the sink is best-effort outside the SL_HIT
// atomic unit.
func (e *Engine) audit(ctx context.Context, event, symbol string, detail map[string]any) {
	if err := e.store.Audit().Append(ctx, event, symbol, detail); err != nil {
		log.Error().Err(err).Str("event", event).Str("symbol", symbol).Msg("audit append failed")
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(kind, symbol string, detail map[string]any) {}

type noopScheduler struct{}

func (noopScheduler) Activate() {}
