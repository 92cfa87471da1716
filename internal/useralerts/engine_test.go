package useralerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-pulse/internal/storage"
)

type fakeAlertStore struct {
	alerts  []storage.UserAlert
	updates []storage.UserAlert
}

func (f *fakeAlertStore) ListActiveUserAlerts(ctx context.Context) ([]storage.UserAlert, error) {
	active := make([]storage.UserAlert, 0, len(f.alerts))
	for _, a := range f.alerts {
		if a.Active {
			active = append(active, a)
		}
	}
	return active, nil
}

func (f *fakeAlertStore) UpdateUserAlert(ctx context.Context, alert storage.UserAlert) error {
	f.updates = append(f.updates, alert)
	for i := range f.alerts {
		if f.alerts[i].ID == alert.ID {
			f.alerts[i] = alert
		}
	}
	return nil
}

type fakeTriggerStore struct {
	inserted  []storage.AlertTrigger
	insertErr error
}

func (f *fakeTriggerStore) InsertTrigger(ctx context.Context, trigger storage.AlertTrigger) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, trigger)
	return nil
}

func (f *fakeTriggerStore) UpdateTriggerDelivery(ctx context.Context, id string, notified bool, method *string) error {
	return nil
}

func (f *fakeTriggerStore) ListRecentTriggers(ctx context.Context, limit int) ([]storage.AlertTrigger, error) {
	return f.inserted, nil
}

func (f *fakeTriggerStore) DeleteTriggersBefore(ctx context.Context, olderThan time.Time) error {
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func snapsAt(assetID int64, price string) map[int64]storage.PriceSnapshot {
	return map[int64]storage.PriceSnapshot{
		assetID: {AssetID: assetID, Symbol: "BTC", CurrentPrice: dec(price)},
	}
}

func newTestEngine(alerts ...storage.UserAlert) (*Engine, *fakeAlertStore, *fakeTriggerStore) {
	alertStore := &fakeAlertStore{alerts: alerts}
	triggerStore := &fakeTriggerStore{}
	engine := NewEngine(alertStore, triggerStore, 5*time.Minute, 0.1, zerolog.Nop())
	return engine, alertStore, triggerStore
}

func TestAboveFiresOnlyOnCrossing(t *testing.T) {
	engine, alertStore, triggers := newTestEngine(storage.UserAlert{
		ID: 1, UserID: 7, AssetID: 1, Symbol: "BTC",
		Kind: storage.AlertKindAbove, TargetPrice: dec("50000"),
		Repeating: true, Active: true, LastKnownPrice: decPtr("49000"),
	})

	now := time.Now().UTC()

	// First cycle: crossing from 49000 to 51000 fires.
	fired, err := engine.Evaluate(context.Background(), now, snapsAt(1, "51000"))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("crossing should fire once, got %d", len(fired))
	}

	// Price stays above for several cycles: no re-fire.
	for i := 0; i < 3; i++ {
		later := now.Add(time.Duration(i+10) * time.Minute)
		fired, err = engine.Evaluate(context.Background(), later, snapsAt(1, "52000"))
		if err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		if len(fired) != 0 {
			t.Fatalf("held condition must not re-fire (cycle %d)", i)
		}
	}

	if len(triggers.inserted) != 1 {
		t.Fatalf("history rows = %d, want 1", len(triggers.inserted))
	}
	if alertStore.alerts[0].TriggerCount != 1 {
		t.Fatalf("trigger count = %d, want 1", alertStore.alerts[0].TriggerCount)
	}
}

func TestBelowScenarioDoesNotRetrigger(t *testing.T) {
	// lastKnownPrice 105 -> 98 crosses below 100; next cycle 97 with
	// lastKnownPrice 98 does not.
	engine, _, triggers := newTestEngine(storage.UserAlert{
		ID: 1, UserID: 7, AssetID: 1, Symbol: "BTC",
		Kind: storage.AlertKindBelow, TargetPrice: dec("100"),
		Repeating: true, Active: true, LastKnownPrice: decPtr("105"),
	})

	now := time.Now().UTC()
	fired, err := engine.Evaluate(context.Background(), now, snapsAt(1, "98"))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("downward crossing should fire, got %d", len(fired))
	}

	fired, err = engine.Evaluate(context.Background(), now.Add(10*time.Minute), snapsAt(1, "97"))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("still-below price must not re-fire")
	}

	if len(triggers.inserted) != 1 {
		t.Fatalf("history rows = %d, want 1", len(triggers.inserted))
	}
}

func TestReachesFiresInsideToleranceBand(t *testing.T) {
	engine, _, _ := newTestEngine(storage.UserAlert{
		ID: 1, UserID: 7, AssetID: 1, Symbol: "BTC",
		Kind: storage.AlertKindReaches, TargetPrice: dec("100"),
		Repeating: true, Active: true,
	})

	now := time.Now().UTC()

	fired, err := engine.Evaluate(context.Background(), now, snapsAt(1, "100.05"))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("0.05%% away should be inside the 0.1%% band")
	}

	engine2, _, _ := newTestEngine(storage.UserAlert{
		ID: 2, UserID: 7, AssetID: 1, Symbol: "BTC",
		Kind: storage.AlertKindReaches, TargetPrice: dec("100"),
		Repeating: true, Active: true,
	})
	fired, err = engine2.Evaluate(context.Background(), now, snapsAt(1, "100.5"))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("0.5%% away should be outside the 0.1%% band")
	}
}

func TestOneShotAlertDeactivatesAfterFiring(t *testing.T) {
	engine, alertStore, triggers := newTestEngine(storage.UserAlert{
		ID: 1, UserID: 7, AssetID: 1, Symbol: "BTC",
		Kind: storage.AlertKindAbove, TargetPrice: dec("50000"),
		Repeating: false, Active: true, LastKnownPrice: decPtr("49000"),
	})

	now := time.Now().UTC()
	fired, err := engine.Evaluate(context.Background(), now, snapsAt(1, "51000"))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(fired) != 1 {
		t.Fatalf("one-shot should fire once")
	}
	if alertStore.alerts[0].Active {
		t.Fatalf("one-shot alert should be inactive after firing")
	}

	// Further cycles see no active alert and write no more history.
	for i := 0; i < 3; i++ {
		later := now.Add(time.Duration(i+10) * time.Minute)
		if _, err := engine.Evaluate(context.Background(), later, snapsAt(1, "49000")); err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
		if _, err := engine.Evaluate(context.Background(), later.Add(time.Minute), snapsAt(1, "51000")); err != nil {
			t.Fatalf("evaluate failed: %v", err)
		}
	}
	if len(triggers.inserted) != 1 {
		t.Fatalf("history rows = %d, want 1", len(triggers.inserted))
	}
}

func TestCooldownSuppressesRapidRefires(t *testing.T) {
	now := time.Now().UTC()
	recent := now.Add(-time.Minute)
	engine, _, triggers := newTestEngine(storage.UserAlert{
		ID: 1, UserID: 7, AssetID: 1, Symbol: "BTC",
		Kind: storage.AlertKindBelow, TargetPrice: dec("100"),
		Repeating: true, Active: true,
		LastKnownPrice: decPtr("105"), LastTriggeredAt: &recent,
	})

	fired, err := engine.Evaluate(context.Background(), now, snapsAt(1, "98"))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(fired) != 0 || len(triggers.inserted) != 0 {
		t.Fatalf("cooldown violated")
	}
}

func TestMissingSnapshotSkipsAssetGroup(t *testing.T) {
	engine, alertStore, _ := newTestEngine(storage.UserAlert{
		ID: 1, UserID: 7, AssetID: 9, Symbol: "DOGE",
		Kind: storage.AlertKindAbove, TargetPrice: dec("1"),
		Repeating: true, Active: true,
	})

	fired, err := engine.Evaluate(context.Background(), time.Now().UTC(), snapsAt(1, "100"))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("asset without snapshot must not fire")
	}
	if len(alertStore.updates) != 0 {
		t.Fatalf("skipped alert should not be touched")
	}
}

func TestFailedHistoryInsertStillConsumesTheFiring(t *testing.T) {
	// The alert state write precedes the history insert, so an insert
	// failure suppresses the next cycle instead of firing twice.
	engine, alertStore, triggers := newTestEngine(storage.UserAlert{
		ID: 1, UserID: 7, AssetID: 1, Symbol: "BTC",
		Kind: storage.AlertKindAbove, TargetPrice: dec("50000"),
		Repeating: true, Active: true, LastKnownPrice: decPtr("49000"),
	})
	triggers.insertErr = errors.New("history insert failed")

	now := time.Now().UTC()
	fired, err := engine.Evaluate(context.Background(), now, snapsAt(1, "51000"))
	if err != nil {
		t.Fatalf("one failing alert must not fail the pass: %v", err)
	}
	if len(fired) != 0 {
		t.Fatalf("failed insert must not report a firing")
	}

	state := alertStore.alerts[0]
	if state.LastTriggeredAt == nil || state.TriggerCount != 1 {
		t.Fatalf("firing not consumed: %+v", state)
	}

	// Price dips and crosses again inside the cooldown: still suppressed.
	triggers.insertErr = nil
	if _, err := engine.Evaluate(context.Background(), now.Add(time.Minute), snapsAt(1, "49500")); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	fired, err = engine.Evaluate(context.Background(), now.Add(2*time.Minute), snapsAt(1, "51000"))
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if len(fired) != 0 || len(triggers.inserted) != 0 {
		t.Fatalf("cooldown must cover the consumed firing")
	}
}

func TestLastKnownPriceAlwaysUpdated(t *testing.T) {
	engine, alertStore, _ := newTestEngine(storage.UserAlert{
		ID: 1, UserID: 7, AssetID: 1, Symbol: "BTC",
		Kind: storage.AlertKindAbove, TargetPrice: dec("999999"),
		Repeating: true, Active: true,
	})

	if _, err := engine.Evaluate(context.Background(), time.Now().UTC(), snapsAt(1, "51000")); err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	updated := alertStore.alerts[0]
	if updated.LastKnownPrice == nil || updated.LastKnownPrice.String() != "51000" {
		t.Fatalf("last known price not carried: %#v", updated.LastKnownPrice)
	}
	if updated.LastCheckedAt == nil {
		t.Fatalf("last checked timestamp not carried")
	}
}
