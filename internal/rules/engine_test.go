package rules

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-pulse/internal/storage"
)

type fakeRuleStore struct {
	rules      []storage.AlertRule
	lastEvents map[string]time.Time
}

func pairKey(ruleID, assetID int64) string {
	return fmt.Sprintf("%d/%d", ruleID, assetID)
}

func (f *fakeRuleStore) ListActiveRules(ctx context.Context) ([]storage.AlertRule, error) {
	return f.rules, nil
}

func (f *fakeRuleStore) LastEventAt(ctx context.Context, ruleID, assetID int64) (*time.Time, error) {
	if f.lastEvents == nil {
		return nil, nil
	}
	if last, ok := f.lastEvents[pairKey(ruleID, assetID)]; ok {
		return &last, nil
	}
	return nil, nil
}

type fakeEventStore struct {
	inserted []storage.AlertEvent
}

func (f *fakeEventStore) InsertEvent(ctx context.Context, event storage.AlertEvent) error {
	f.inserted = append(f.inserted, event)
	return nil
}

func (f *fakeEventStore) UpdateEventStatus(ctx context.Context, id, status string, errMsg *string) error {
	return nil
}

func (f *fakeEventStore) ListRecentEvents(ctx context.Context, limit int) ([]storage.AlertEvent, error) {
	return f.inserted, nil
}

func (f *fakeEventStore) DeleteEventsBefore(ctx context.Context, olderThan time.Time) error {
	return nil
}

func snap(assetID int64, symbol string, current, h1, h24 string) storage.PriceSnapshot {
	return storage.PriceSnapshot{
		AssetID:      assetID,
		Symbol:       symbol,
		CurrentPrice: decimal.RequireFromString(current),
		Price1hAgo:   decimal.RequireFromString(h1),
		Price24hAgo:  decimal.RequireFromString(h24),
		Price7dAgo:   decimal.RequireFromString(h24),
	}
}

func rule(id int64, kind string, threshold string, cooldown time.Duration) storage.AlertRule {
	return storage.AlertRule{
		ID:           id,
		Kind:         kind,
		ThresholdPct: decimal.RequireFromString(threshold),
		Cooldown:     cooldown,
		Active:       true,
	}
}

func newTestEngine(rules []storage.AlertRule, lastEvents map[string]time.Time) (*Engine, *fakeEventStore) {
	events := &fakeEventStore{}
	ruleStore := &fakeRuleStore{rules: rules, lastEvents: lastEvents}
	return NewEngine(ruleStore, events, zerolog.Nop()), events
}

func TestEvaluatePumpRuleEmitsEvent(t *testing.T) {
	// 47000 -> 52600 over 24h is +11.91%, above a 10% threshold.
	engine, events := newTestEngine(
		[]storage.AlertRule{rule(1, string(KindPercentChange24h), "10", time.Hour)}, nil)

	now := time.Now().UTC()
	emitted, err := engine.Evaluate(context.Background(), now, []storage.PriceSnapshot{
		snap(1, "BTC", "52600", "52600", "47000"),
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(emitted) != 1 {
		t.Fatalf("emitted %d events, want 1", len(emitted))
	}

	event := emitted[0]
	if got := event.PercentChange.StringFixed(2); got != "11.91" {
		t.Fatalf("percent change = %s, want 11.91", got)
	}
	if event.Severity != string(SeverityHigh) {
		t.Fatalf("severity = %s, want high", event.Severity)
	}
	if event.Status != storage.EventStatusPending {
		t.Fatalf("status = %s, want pending", event.Status)
	}
	if !strings.Contains(event.Message, "BTC") || !strings.Contains(event.Message, "up") {
		t.Fatalf("message lacks direction or symbol: %q", event.Message)
	}
	if len(events.inserted) != 1 {
		t.Fatalf("event not persisted")
	}
}

func TestEvaluateDropRuleUsesNegativeThreshold(t *testing.T) {
	// threshold <= 0 fires when change <= threshold.
	engine, _ := newTestEngine(
		[]storage.AlertRule{rule(1, string(KindPercentChange1h), "-5", time.Hour)}, nil)

	now := time.Now().UTC()
	emitted, err := engine.Evaluate(context.Background(), now, []storage.PriceSnapshot{
		snap(1, "ETH", "90", "100", "100"), // -10% over 1h
		snap(2, "SOL", "98", "100", "100"), // -2%, inside threshold
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(emitted) != 1 || emitted[0].Symbol != "ETH" {
		t.Fatalf("unexpected emissions: %#v", emitted)
	}
	if !strings.Contains(emitted[0].Message, "down") {
		t.Fatalf("drop message lacks direction: %q", emitted[0].Message)
	}
}

func TestEvaluateRespectsCooldown(t *testing.T) {
	now := time.Now().UTC()
	recent := now.Add(-30 * time.Minute)
	engine, events := newTestEngine(
		[]storage.AlertRule{rule(1, string(KindPercentChange24h), "10", time.Hour)},
		map[string]time.Time{pairKey(1, 1): recent})

	emitted, err := engine.Evaluate(context.Background(), now, []storage.PriceSnapshot{
		snap(1, "BTC", "52600", "52600", "47000"),
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(emitted) != 0 || len(events.inserted) != 0 {
		t.Fatalf("cooldown violated: %#v", emitted)
	}
}

func TestEvaluateAllowsFiringAfterCooldownExpires(t *testing.T) {
	now := time.Now().UTC()
	old := now.Add(-2 * time.Hour)
	engine, _ := newTestEngine(
		[]storage.AlertRule{rule(1, string(KindPercentChange24h), "10", time.Hour)},
		map[string]time.Time{pairKey(1, 1): old})

	emitted, err := engine.Evaluate(context.Background(), now, []storage.PriceSnapshot{
		snap(1, "BTC", "52600", "52600", "47000"),
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(emitted) != 1 {
		t.Fatalf("expired cooldown should allow a new event, got %d", len(emitted))
	}
}

func TestEvaluateWeeklyRuleFiresOnWeeklyMove(t *testing.T) {
	engine, _ := newTestEngine(
		[]storage.AlertRule{rule(1, string(KindPercentChange7d), "50", time.Hour)}, nil)

	// Flat on the short horizons, +100% against the weekly reference.
	weekly := storage.PriceSnapshot{
		AssetID:      1,
		Symbol:       "BTC",
		CurrentPrice: decimal.RequireFromString("200"),
		Price1hAgo:   decimal.RequireFromString("200"),
		Price24hAgo:  decimal.RequireFromString("200"),
		Price7dAgo:   decimal.RequireFromString("100"),
	}

	emitted, err := engine.Evaluate(context.Background(), time.Now().UTC(), []storage.PriceSnapshot{weekly})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(emitted) != 1 {
		t.Fatalf("weekly move should fire, got %d events", len(emitted))
	}
	if got := emitted[0].PercentChange.StringFixed(2); got != "100.00" {
		t.Fatalf("percent change = %s, want 100.00", got)
	}
	if !strings.Contains(emitted[0].Message, "7d") {
		t.Fatalf("message lacks the window: %q", emitted[0].Message)
	}
}

func TestEvaluateColdStartYieldsNoEvent(t *testing.T) {
	// All horizon prices equal current: 0% change, below any threshold.
	engine, _ := newTestEngine(
		[]storage.AlertRule{rule(1, string(KindPercentChange1h), "1", time.Hour)}, nil)

	emitted, err := engine.Evaluate(context.Background(), time.Now().UTC(), []storage.PriceSnapshot{
		snap(1, "NEW", "1.5", "1.5", "1.5"),
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(emitted) != 0 {
		t.Fatalf("cold-start asset should not fire: %#v", emitted)
	}
}

func TestEvaluateUnknownKindIsNoOp(t *testing.T) {
	engine, _ := newTestEngine(
		[]storage.AlertRule{rule(1, "volume_spike", "10", time.Hour)}, nil)

	emitted, err := engine.Evaluate(context.Background(), time.Now().UTC(), []storage.PriceSnapshot{
		snap(1, "BTC", "52600", "40000", "40000"),
	})
	if err != nil {
		t.Fatalf("unknown kind must not error: %v", err)
	}
	if len(emitted) != 0 {
		t.Fatalf("unknown kind must not emit: %#v", emitted)
	}
}

func TestEvaluateAssetScopedRuleSkipsOtherAssets(t *testing.T) {
	assetID := int64(2)
	scoped := rule(1, string(KindPercentChange1h), "5", time.Hour)
	scoped.AssetID = &assetID

	engine, _ := newTestEngine([]storage.AlertRule{scoped}, nil)

	emitted, err := engine.Evaluate(context.Background(), time.Now().UTC(), []storage.PriceSnapshot{
		snap(1, "BTC", "110", "100", "100"),
		snap(2, "ETH", "110", "100", "100"),
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(emitted) != 1 || emitted[0].AssetID != assetID {
		t.Fatalf("scoped rule leaked: %#v", emitted)
	}
}
