package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-pulse/internal/storage"
)

type fakePriceStore struct {
	assets    []storage.Asset
	points    map[int64][]storage.PricePoint
	failFor   int64
	lastSince time.Time
}

func (f *fakePriceStore) ListAssets(ctx context.Context) ([]storage.Asset, error) {
	return f.assets, nil
}

func (f *fakePriceStore) ListPricePointsSince(ctx context.Context, assetID int64, since time.Time) ([]storage.PricePoint, error) {
	f.lastSince = since
	if assetID == f.failFor {
		return nil, errors.New("series unavailable")
	}
	return f.points[assetID], nil
}

func (f *fakePriceStore) ListPricePointsBetween(ctx context.Context, assetID int64, from, to time.Time) ([]storage.PricePoint, error) {
	return nil, nil
}

type fakeSnapshotStore struct {
	upserted []storage.PriceSnapshot
}

func (f *fakeSnapshotStore) UpsertSnapshots(ctx context.Context, snaps []storage.PriceSnapshot) error {
	f.upserted = append(f.upserted, snaps...)
	return nil
}

func (f *fakeSnapshotStore) GetSnapshot(ctx context.Context, assetID int64) (*storage.PriceSnapshot, error) {
	return nil, nil
}

func (f *fakeSnapshotStore) ListSnapshots(ctx context.Context) ([]storage.PriceSnapshot, error) {
	return f.upserted, nil
}

func point(assetID int64, ts time.Time, price string) storage.PricePoint {
	return storage.PricePoint{
		AssetID:   assetID,
		Timestamp: ts,
		Price:     decimal.RequireFromString(price),
		Volume:    decimal.Zero,
	}
}

func TestBuildSelectsHorizonPrices(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	asset := storage.Asset{ID: 1, Symbol: "BTC"}

	// Newest first, as the store returns them.
	points := []storage.PricePoint{
		point(1, now.Add(-time.Minute), "52600"),
		point(1, now.Add(-90*time.Minute), "51000"),
		point(1, now.Add(-25*time.Hour), "47000"),
		point(1, now.Add(-7*24*time.Hour-30*time.Minute), "40000"),
	}

	snap := Build(asset, points, now)

	if got := snap.CurrentPrice.String(); got != "52600" {
		t.Fatalf("current price = %s, want 52600", got)
	}
	if got := snap.Price1hAgo.String(); got != "51000" {
		t.Fatalf("1h price = %s, want 51000", got)
	}
	if got := snap.Price24hAgo.String(); got != "47000" {
		t.Fatalf("24h price = %s, want 47000", got)
	}
	// The sample just past the 7d mark is the weekly reference.
	if got := snap.Price7dAgo.String(); got != "40000" {
		t.Fatalf("7d price = %s, want 40000", got)
	}
}

func TestBuildFallsBackWhenNoSampleReachesSevenDays(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	asset := storage.Asset{ID: 1, Symbol: "BTC"}

	points := []storage.PricePoint{
		point(1, now.Add(-time.Minute), "52600"),
		point(1, now.Add(-6*24*time.Hour), "40000"),
	}

	snap := Build(asset, points, now)

	if got := snap.Price7dAgo.String(); got != "52600" {
		t.Fatalf("7d price = %s, want fallback 52600", got)
	}
}

func TestRefreshFetchesPastTheWeeklyHorizon(t *testing.T) {
	// A sample older than 7d must be in the fetch window, or the weekly
	// reference would always land on its fallback and weekly rules would
	// compute 0%.
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	weekOld := now.Add(-7*24*time.Hour - 30*time.Minute)
	prices := &fakePriceStore{
		assets: []storage.Asset{{ID: 1, Symbol: "BTC"}},
		points: map[int64][]storage.PricePoint{
			1: {point(1, now.Add(-time.Minute), "200"), point(1, weekOld, "100")},
		},
	}
	snaps := &fakeSnapshotStore{}

	refresher := NewRefresher(prices, snaps, zerolog.Nop())
	if _, err := refresher.Refresh(context.Background(), now); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	if prices.lastSince.After(weekOld) {
		t.Fatalf("fetch window starts at %s, excludes the week-old sample at %s", prices.lastSince, weekOld)
	}
	if got := snaps.upserted[0].Price7dAgo.String(); got != "100" {
		t.Fatalf("7d price = %s, want 100", got)
	}
}

func TestBuildColdStartFallsBackToCurrent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	asset := storage.Asset{ID: 2, Symbol: "NEW"}
	points := []storage.PricePoint{point(2, now.Add(-time.Minute), "1.5")}

	snap := Build(asset, points, now)

	for name, got := range map[string]string{
		"1h":  snap.Price1hAgo.String(),
		"24h": snap.Price24hAgo.String(),
		"7d":  snap.Price7dAgo.String(),
	} {
		if got != "1.5" {
			t.Fatalf("%s price = %s, want fallback 1.5", name, got)
		}
	}
}

func TestRefreshSkipsAssetsWithoutSamples(t *testing.T) {
	now := time.Now().UTC()
	prices := &fakePriceStore{
		assets: []storage.Asset{{ID: 1, Symbol: "BTC"}, {ID: 2, Symbol: "EMPTY"}},
		points: map[int64][]storage.PricePoint{
			1: {point(1, now.Add(-time.Minute), "100")},
		},
	}
	snaps := &fakeSnapshotStore{}

	refresher := NewRefresher(prices, snaps, zerolog.Nop())
	count, err := refresher.Refresh(context.Background(), now)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("refreshed %d assets, want 1", count)
	}
	if len(snaps.upserted) != 1 || snaps.upserted[0].AssetID != 1 {
		t.Fatalf("unexpected upserts: %#v", snaps.upserted)
	}
}

func TestRefreshIsolatesPerAssetFailures(t *testing.T) {
	now := time.Now().UTC()
	prices := &fakePriceStore{
		assets: []storage.Asset{{ID: 1, Symbol: "BAD"}, {ID: 2, Symbol: "GOOD"}},
		points: map[int64][]storage.PricePoint{
			2: {point(2, now.Add(-time.Minute), "42")},
		},
		failFor: 1,
	}
	snaps := &fakeSnapshotStore{}

	refresher := NewRefresher(prices, snaps, zerolog.Nop())
	count, err := refresher.Refresh(context.Background(), now)
	if err != nil {
		t.Fatalf("one bad asset should not fail the refresh: %v", err)
	}
	if count != 1 {
		t.Fatalf("refreshed %d assets, want 1", count)
	}
	if snaps.upserted[0].Symbol != "GOOD" {
		t.Fatalf("wrong asset survived: %#v", snaps.upserted)
	}
}

func TestRefreshStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prices := &fakePriceStore{assets: []storage.Asset{{ID: 1, Symbol: "BTC"}}}
	refresher := NewRefresher(prices, &fakeSnapshotStore{}, zerolog.Nop())

	if _, err := refresher.Refresh(ctx, time.Now().UTC()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
