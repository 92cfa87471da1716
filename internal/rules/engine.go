// Package rules evaluates global percent-change rules against the price
// snapshot cache and emits alert events.
package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-pulse/internal/storage"
)

// Kind is a closed enum of rule kinds. Each kind binds the snapshot field
// it compares the current price against; an unrecognised value stored in
// the database evaluates to no event rather than an error.
type Kind string

const (
	KindPercentChange1h  Kind = "percent_change_1h"
	KindPercentChange24h Kind = "percent_change_24h"
	KindPercentChange7d  Kind = "percent_change_7d"
)

type kindSpec struct {
	window   string
	previous func(storage.PriceSnapshot) decimal.Decimal
}

var kinds = map[Kind]kindSpec{
	KindPercentChange1h:  {"1h", func(s storage.PriceSnapshot) decimal.Decimal { return s.Price1hAgo }},
	KindPercentChange24h: {"24h", func(s storage.PriceSnapshot) decimal.Decimal { return s.Price24hAgo }},
	KindPercentChange7d:  {"7d", func(s storage.PriceSnapshot) decimal.Decimal { return s.Price7dAgo }},
}

var hundred = decimal.NewFromInt(100)

// Engine evaluates active rules against snapshot rows, honouring per-rule
// cooldowns via the event store's last-event-timestamp lookup.
type Engine struct {
	rules  storage.RuleStore
	events storage.EventStore
	logger zerolog.Logger
}

// NewEngine wires the rule evaluation engine.
func NewEngine(ruleStore storage.RuleStore, events storage.EventStore, logger zerolog.Logger) *Engine {
	return &Engine{
		rules:  ruleStore,
		events: events,
		logger: logger.With().Str("component", "rule_engine").Logger(),
	}
}

// Evaluate runs every active rule against every in-scope snapshot and
// persists at most one pending event per (rule, asset) pair. Failures on
// one pair are logged and do not stop the rest. The emitted events are
// returned for dispatch.
func (e *Engine) Evaluate(ctx context.Context, now time.Time, snaps []storage.PriceSnapshot) ([]storage.AlertEvent, error) {
	activeRules, err := e.rules.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	if len(activeRules) == 0 {
		return nil, nil
	}

	var emitted []storage.AlertEvent
	for _, rule := range activeRules {
		for _, snap := range snaps {
			if err := ctx.Err(); err != nil {
				return emitted, err
			}
			if rule.AssetID != nil && *rule.AssetID != snap.AssetID {
				continue
			}

			event, err := e.evaluatePair(ctx, now, rule, snap)
			if err != nil {
				e.logger.Error().Err(err).
					Int64("rule_id", rule.ID).
					Str("symbol", snap.Symbol).
					Msg("rule evaluation failed")
				continue
			}
			if event != nil {
				emitted = append(emitted, *event)
			}
		}
	}
	return emitted, nil
}

// evaluatePair applies one rule to one snapshot. It returns nil when the
// pair is in cooldown, the rule kind is unknown, the reference price is
// unusable, or the threshold is not met.
func (e *Engine) evaluatePair(ctx context.Context, now time.Time, rule storage.AlertRule, snap storage.PriceSnapshot) (*storage.AlertEvent, error) {
	spec, ok := kinds[Kind(rule.Kind)]
	if !ok {
		e.logger.Debug().Str("kind", rule.Kind).Int64("rule_id", rule.ID).Msg("unknown rule kind skipped")
		return nil, nil
	}

	last, err := e.rules.LastEventAt(ctx, rule.ID, snap.AssetID)
	if err != nil {
		return nil, fmt.Errorf("cooldown lookup: %w", err)
	}
	if last != nil && !last.Before(now.Add(-rule.Cooldown)) {
		return nil, nil
	}

	previous := spec.previous(snap)
	if !previous.IsPositive() {
		return nil, nil
	}

	change := snap.CurrentPrice.Sub(previous).Div(previous).Mul(hundred)
	if !thresholdMet(change, rule.ThresholdPct) {
		return nil, nil
	}

	event := storage.AlertEvent{
		ID:            uuid.NewString(),
		RuleID:        rule.ID,
		AssetID:       snap.AssetID,
		Symbol:        snap.Symbol,
		Kind:          rule.Kind,
		TriggerValue:  snap.CurrentPrice,
		PreviousValue: previous,
		PercentChange: change,
		Severity:      string(SeverityFor(change)),
		Message:       renderMessage(snap.Symbol, spec.window, change, snap.CurrentPrice),
		TriggeredAt:   now,
		Status:        storage.EventStatusPending,
	}

	if err := e.events.InsertEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("persist event: %w", err)
	}
	return &event, nil
}

// thresholdMet applies the asymmetric sign convention: a positive
// threshold is a pump rule (fire on change >= threshold), a zero or
// negative threshold is a dump rule (fire on change <= threshold).
func thresholdMet(change, threshold decimal.Decimal) bool {
	if threshold.IsPositive() {
		return change.GreaterThanOrEqual(threshold)
	}
	return change.LessThanOrEqual(threshold)
}

func renderMessage(symbol, window string, change, price decimal.Decimal) string {
	direction := "up"
	if change.IsNegative() {
		direction = "down"
	}
	return fmt.Sprintf("%s is %s %s%% over the last %s, now at %s",
		symbol, direction, change.Abs().StringFixed(2), window, price.String())
}
