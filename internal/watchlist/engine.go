// Package watchlist fires auto-alerts for watched assets against smart
// targets derived from recent volatility and round-number levels.
package watchlist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-pulse/internal/storage"
)

// Engine evaluates watchlist heuristics.
type Engine struct {
	watchlists storage.WatchlistStore
	triggers   storage.TriggerStore
	heuristics Heuristics
	logger     zerolog.Logger
}

// NewEngine wires the watchlist heuristic engine.
func NewEngine(watchlists storage.WatchlistStore, triggers storage.TriggerStore, h Heuristics, logger zerolog.Logger) *Engine {
	return &Engine{
		watchlists: watchlists,
		triggers:   triggers,
		heuristics: h,
		logger:     logger.With().Str("component", "watchlist_engine").Logger(),
	}
}

// Evaluate walks every watched asset with a snapshot row, derives its
// smart targets, and fires on the first target whose crossing condition
// holds. At most one auto-alert per (user, asset) per cycle; the last
// seen price is written back for the next cycle's crossing check. Errors
// on one item are logged and isolated.
func (e *Engine) Evaluate(ctx context.Context, now time.Time, snaps map[int64]storage.PriceSnapshot) ([]storage.AlertTrigger, error) {
	items, err := e.watchlists.ListWatchedAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list watched assets: %w", err)
	}

	var fired []storage.AlertTrigger
	seen := make(map[[2]int64]bool)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return fired, err
		}

		snap, ok := snaps[item.AssetID]
		if !ok {
			continue
		}

		key := [2]int64{item.UserID, item.AssetID}
		alreadyFired := seen[key]

		trigger, err := e.evaluateItem(ctx, now, item, snap, alreadyFired)
		if err != nil {
			e.logger.Error().Err(err).
				Int64("watchlist_id", item.WatchlistID).
				Str("symbol", item.Symbol).
				Msg("watchlist evaluation failed")
			continue
		}
		if trigger != nil {
			seen[key] = true
			fired = append(fired, *trigger)
		}
	}
	return fired, nil
}

func (e *Engine) evaluateItem(ctx context.Context, now time.Time, item storage.WatchedAsset, snap storage.PriceSnapshot, suppress bool) (*storage.AlertTrigger, error) {
	current := snap.CurrentPrice

	// Targets are anchored on the previously observed price so the fresh
	// price can actually cross them; anchoring on the fresh price would
	// make every offset target chase itself and never fire. With no
	// previous price there is nothing to cross and the cycle only records
	// the baseline.
	var hit *Target
	if !suppress && item.LastKnownPrice != nil {
		anchor := snap
		anchor.CurrentPrice = *item.LastKnownPrice
		for _, target := range SmartTargets(anchor, e.heuristics) {
			if crossed(target, current, item.LastKnownPrice) {
				t := target
				hit = &t
				break
			}
		}
	}

	if err := e.watchlists.UpdateWatchedPrice(ctx, item.WatchlistID, item.AssetID, current); err != nil {
		return nil, fmt.Errorf("update watched price: %w", err)
	}
	if hit == nil {
		return nil, nil
	}

	trigger := storage.AlertTrigger{
		ID:          uuid.NewString(),
		UserID:      item.UserID,
		AssetID:     item.AssetID,
		Symbol:      item.Symbol,
		Source:      storage.TriggerSourceWatchlist,
		TargetPrice: hit.Price,
		ActualPrice: current,
		DiffPct:     diffPct(current, hit.Price),
		Reason:      hit.Reason,
		TriggeredAt: now,
	}

	if err := e.triggers.InsertTrigger(ctx, trigger); err != nil {
		return nil, fmt.Errorf("persist trigger: %w", err)
	}
	return &trigger, nil
}

// crossed reports whether the price moved through the target since the
// last observed price. With no previous price the satisfied condition is
// treated as a crossing.
func crossed(target Target, current decimal.Decimal, last *decimal.Decimal) bool {
	switch target.Direction {
	case DirectionAbove:
		return current.GreaterThanOrEqual(target.Price) &&
			(last == nil || last.LessThan(target.Price))
	case DirectionBelow:
		return current.LessThanOrEqual(target.Price) &&
			(last == nil || last.GreaterThan(target.Price))
	default:
		return false
	}
}

func diffPct(actual, target decimal.Decimal) decimal.Decimal {
	if target.IsZero() {
		return decimal.Zero
	}
	return actual.Sub(target).Div(target).Mul(hundred)
}
