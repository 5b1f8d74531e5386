package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/config"
	"github.com/sawpanic/tradegate/internal/gates"
	"github.com/sawpanic/tradegate/internal/lock"
	"github.com/sawpanic/tradegate/internal/metrics"
	"github.com/sawpanic/tradegate/internal/signal"
	"github.com/sawpanic/tradegate/internal/store"
)

// intentReviewStatuses are the statuses a new WALL signal merges into
// instead of creating a duplicate row.
var intentReviewStatuses = []store.IntentStatus{
	store.IntentPending, store.IntentSwipedOn, store.IntentCancelled,
}

// handleWall creates or merge-updates the trade intent for a WALL
// signal and links any recent unlinked execution to it.
func (e *Engine) handleWall(ctx context.Context, sig *signal.WallSignal) (*Result, error) {
	if sig.Direction != store.Long && sig.Direction != store.Short {
		return nil, &signal.ValidationError{
			Kind: signal.MissingField, Field: "direction",
			Msg: "WALL signal requires a Long or Short direction",
		}
	}

	symbol := sig.Instrument()
	ok, err := e.locks.Acquire(ctx, symbol, lock.PurposeWall, e.cfg.WallLockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.LockContentionTotal.WithLabelValues(string(lock.PurposeWall)).Inc()
		metrics.RejectedTotal.WithLabelValues(string(ReasonSymbolLocked)).Inc()
		return rejected(ReasonSymbolLocked, "duplicate WALL signal already in flight"), nil
	}
	defer e.locks.Release(ctx, symbol, lock.PurposeWall)

	now := e.now()
	ticker, err := e.ticker(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if ticker.AlertBlocked() {
		metrics.RejectedTotal.WithLabelValues(string(ReasonAlertsBlocked)).Inc()
		return rejected(ReasonAlertsBlocked, "alerts are muted for "+symbol), nil
	}
	if ticker.OrderBlocked(now) {
		metrics.RejectedTotal.WithLabelValues(string(ReasonTickerBlocked)).Inc()
		return rejected(ReasonTickerBlocked, "ticker is blocked"), nil
	}

	intent, err := e.store.Intents().Latest(ctx, symbol, intentReviewStatuses, now)
	updated := err == nil
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}

	if !updated {
		intent = &store.TradeIntent{
			ID:        uuid.NewString(),
			Symbol:    symbol,
			Status:    store.IntentPending,
			CreatedAt: now,
		}
	}

	intent.Direction = sig.Direction
	if sig.Price != 0 {
		intent.Price = sig.Price
	}
	if sig.StrategyID != "" {
		intent.StrategyID = sig.StrategyID
	}
	if sig.Timeframe != "" {
		intent.Timeframe = sig.Timeframe
	}
	if sig.CardState != "" {
		intent.CardState = sig.CardState
	}
	intent.RawPayload = sig.Payload()
	intent.ExpiresAt = now.Add(e.cfg.IntentExpiry)
	intent.UpdatedAt = now

	score := e.scoreWall(sig, intent, updated)
	intent.GatesHit = score.Hit
	intent.GatesTotal = score.Total
	intent.Confidence = score.Confidence
	intent.QualityTier = string(score.Tier)
	intent.QualityScore = score.Quality

	// Auto-link: a recent execution with no intent attaches to this
	// one; in full mode the intent is approved without review.
	autoLinked := false
	autoApproved := false
	exec, err := e.store.Executions().LatestUnlinked(ctx, symbol, now.Add(-e.cfg.AutoLinkWindow))
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	if err == nil {
		autoLinked = true
		if e.Mode() == config.ModeFull && intent.Status == store.IntentPending {
			intent.Status = store.IntentSwipedOn
			autoApproved = true
		}
	}

	if updated {
		if err := e.store.Intents().Update(ctx, intent); err != nil {
			return nil, err
		}
	} else {
		if err := e.store.Intents().Create(ctx, intent); err != nil {
			return nil, err
		}
	}

	if autoLinked {
		exec.IntentID = &intent.ID
		exec.UpdatedAt = now
		if err := e.store.Executions().Update(ctx, exec); err != nil {
			return nil, err
		}
	}

	auditEvent := "intent_created"
	if updated {
		auditEvent = "intent_updated"
	}
	e.audit(ctx, auditEvent, symbol, map[string]any{
		"intent_id":     intent.ID,
		"direction":     intent.Direction,
		"price":         intent.Price,
		"gates_hit":     score.Hit,
		"gates_total":   score.Total,
		"confidence":    score.Confidence,
		"quality_tier":  score.Tier,
		"quality_score": score.Quality,
		"auto_linked":   autoLinked,
		"auto_approved": autoApproved,
	})

	// Only alert when the symbol carries no exposure yet; a WALL on an
	// open position is informational.
	if _, err := e.store.Positions().GetOpen(ctx, symbol); err == store.ErrNotFound {
		e.notifier.Notify("wall_signal", symbol, map[string]any{
			"intent_id":    intent.ID,
			"direction":    intent.Direction,
			"confidence":   score.Confidence,
			"quality_tier": score.Tier,
		})
	}

	log.Info().
		Str("symbol", symbol).
		Str("intent_id", intent.ID).
		Bool("updated", updated).
		Float64("confidence", score.Confidence).
		Msg("wall signal processed")

	return &Result{
		Outcome:      OutcomeAccepted,
		IntentID:     intent.ID,
		Updated:      updated,
		AutoLinked:   autoLinked,
		AutoApproved: autoApproved,
		Score:        &score,
	}, nil
}

// scoreWall prefers a freshly computed gate score; legacy explicit
// counts are the fallback, and an update with no scoring fields at all
// keeps the intent's previous score.
func (e *Engine) scoreWall(sig *signal.WallSignal, intent *store.TradeIntent, updating bool) gates.Score {
	if len(sig.Gates) > 0 {
		return gates.Evaluate(sig.Gates)
	}
	if sig.LegacyHit != nil && sig.LegacyTotal != nil {
		score := gates.FromCounts(*sig.LegacyHit, *sig.LegacyTotal)
		if sig.LegacyScore != nil {
			score.Quality = *sig.LegacyScore
		}
		return score
	}
	if updating {
		return gates.Score{
			Hit:        intent.GatesHit,
			Total:      intent.GatesTotal,
			Confidence: intent.Confidence,
			Tier:       gates.Tier(intent.QualityTier),
			Quality:    intent.QualityScore,
		}
	}
	return gates.FromCounts(0, 0)
}
