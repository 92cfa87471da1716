// Package useralerts evaluates user-authored price alerts against the
// snapshot cache. ABOVE and BELOW alerts fire on the crossing of the
// target, not on every cycle the condition holds: the previous cycle's
// price is kept on the alert row and compared against the target.
package useralerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-pulse/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// Engine evaluates user alerts.
type Engine struct {
	alerts    storage.UserAlertStore
	triggers  storage.TriggerStore
	logger    zerolog.Logger
	cooldown  time.Duration
	tolerance decimal.Decimal
}

// NewEngine wires the user alert engine. cooldown bounds how often one
// alert may fire; tolerance is the REACHES band in percent.
func NewEngine(alerts storage.UserAlertStore, triggers storage.TriggerStore, cooldown time.Duration, tolerancePct float64, logger zerolog.Logger) *Engine {
	return &Engine{
		alerts:    alerts,
		triggers:  triggers,
		logger:    logger.With().Str("component", "user_alert_engine").Logger(),
		cooldown:  cooldown,
		tolerance: decimal.NewFromFloat(tolerancePct),
	}
}

// Evaluate checks every active alert against the current snapshot prices.
// Alerts are grouped by asset; a missing snapshot skips the whole group
// for this cycle. A failure on one alert is logged and does not stop its
// siblings. Returned trigger rows are already persisted and await dispatch.
func (e *Engine) Evaluate(ctx context.Context, now time.Time, snaps map[int64]storage.PriceSnapshot) ([]storage.AlertTrigger, error) {
	active, err := e.alerts.ListActiveUserAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}

	var fired []storage.AlertTrigger
	for _, alert := range active {
		if err := ctx.Err(); err != nil {
			return fired, err
		}

		snap, ok := snaps[alert.AssetID]
		if !ok {
			e.logger.Debug().Int64("asset_id", alert.AssetID).Int64("alert_id", alert.ID).
				Msg("no snapshot for asset; alert skipped this cycle")
			continue
		}

		trigger, err := e.evaluateAlert(ctx, now, alert, snap.CurrentPrice)
		if err != nil {
			e.logger.Error().Err(err).
				Int64("alert_id", alert.ID).
				Str("symbol", alert.Symbol).
				Msg("alert evaluation failed")
			continue
		}
		if trigger != nil {
			fired = append(fired, *trigger)
		}
	}
	return fired, nil
}

func (e *Engine) evaluateAlert(ctx context.Context, now time.Time, alert storage.UserAlert, current decimal.Decimal) (*storage.AlertTrigger, error) {
	onCooldown := alert.LastTriggeredAt != nil && now.Sub(*alert.LastTriggeredAt) < e.cooldown
	fires := !onCooldown && e.conditionMet(alert, current)

	// The reference price is updated every cycle, trigger or not, so the
	// next cycle's crossing check has a fresh starting point.
	previous := alert.LastKnownPrice
	alert.LastKnownPrice = &current
	alert.LastCheckedAt = &now

	if fires {
		alert.LastTriggeredAt = &now
		alert.TriggerCount++
		if !alert.Repeating {
			alert.Active = false
		}
	}

	// Alert state is persisted before the history row. If the insert
	// below fails, the cooldown already counts this firing, so the worst
	// case is a missing history row, never a duplicate firing.
	if err := e.alerts.UpdateUserAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("update alert state: %w", err)
	}
	if !fires {
		return nil, nil
	}

	alertID := alert.ID
	trigger := storage.AlertTrigger{
		ID:          uuid.NewString(),
		UserAlertID: &alertID,
		UserID:      alert.UserID,
		AssetID:     alert.AssetID,
		Symbol:      alert.Symbol,
		Source:      storage.TriggerSourceUserAlert,
		TargetPrice: alert.TargetPrice,
		ActualPrice: current,
		DiffPct:     diffPct(current, alert.TargetPrice),
		Reason:      reasonFor(alert, previous),
		TriggeredAt: now,
	}

	if err := e.triggers.InsertTrigger(ctx, trigger); err != nil {
		return nil, fmt.Errorf("persist trigger: %w", err)
	}
	return &trigger, nil
}

// conditionMet applies the alert kind. REACHES fires inside a tolerance
// band around the target; ABOVE and BELOW fire only when the price has
// crossed the target since the previous known price.
func (e *Engine) conditionMet(alert storage.UserAlert, current decimal.Decimal) bool {
	switch alert.Kind {
	case storage.AlertKindReaches:
		if !alert.TargetPrice.IsPositive() {
			return false
		}
		band := diffPct(current, alert.TargetPrice).Abs()
		return band.LessThanOrEqual(e.tolerance)
	case storage.AlertKindAbove:
		return current.GreaterThanOrEqual(alert.TargetPrice) &&
			(alert.LastKnownPrice == nil || alert.LastKnownPrice.LessThan(alert.TargetPrice))
	case storage.AlertKindBelow:
		return current.LessThanOrEqual(alert.TargetPrice) &&
			(alert.LastKnownPrice == nil || alert.LastKnownPrice.GreaterThan(alert.TargetPrice))
	default:
		return false
	}
}

func reasonFor(alert storage.UserAlert, previous *decimal.Decimal) string {
	prev := "n/a"
	if previous != nil {
		prev = previous.String()
	}
	return fmt.Sprintf("%s %s %s (previous %s)", alert.Symbol, alert.Kind, alert.TargetPrice.String(), prev)
}

func diffPct(actual, target decimal.Decimal) decimal.Decimal {
	if target.IsZero() {
		return decimal.Zero
	}
	return actual.Sub(target).Div(target).Mul(hundred)
}
