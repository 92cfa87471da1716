// Package snapshot materialises the per-asset price cache each cycle:
// the latest sample plus the most recent samples at-or-before the
// 1h/24h/7d horizons.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-pulse/internal/storage"
)

const lookback = 7 * 24 * time.Hour

// horizonSlack widens the sample fetch past the oldest horizon. A sample
// must be at-or-before the 7d mark to serve as the 7d reference, so
// fetching exactly 7d of samples would leave that horizon permanently on
// its fallback.
const horizonSlack = time.Hour

// Refresher rebuilds the price snapshot cache from the raw sample series.
type Refresher struct {
	prices storage.PricePointStore
	snaps  storage.SnapshotStore
	logger zerolog.Logger
}

// NewRefresher wires the cache refresher.
func NewRefresher(prices storage.PricePointStore, snaps storage.SnapshotStore, logger zerolog.Logger) *Refresher {
	return &Refresher{
		prices: prices,
		snaps:  snaps,
		logger: logger.With().Str("component", "snapshot_refresher").Logger(),
	}
}

// Refresh rebuilds one snapshot row per asset with recent samples and
// upserts the batch. An asset whose sample fetch fails is skipped so one
// bad series cannot void the whole cycle's cache write; the skip is logged
// with asset context. Assets with no samples in the lookback window are
// skipped silently.
func (r *Refresher) Refresh(ctx context.Context, now time.Time) (int, error) {
	assets, err := r.prices.ListAssets(ctx)
	if err != nil {
		return 0, fmt.Errorf("list assets: %w", err)
	}

	snaps := make([]storage.PriceSnapshot, 0, len(assets))
	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		points, err := r.prices.ListPricePointsSince(ctx, asset.ID, now.Add(-lookback-horizonSlack))
		if err != nil {
			r.logger.Error().Err(err).
				Int64("asset_id", asset.ID).
				Str("symbol", asset.Symbol).
				Msg("fetching samples failed; asset skipped this cycle")
			continue
		}
		if len(points) == 0 {
			continue
		}

		snaps = append(snaps, Build(asset, points, now))
	}

	if err := r.snaps.UpsertSnapshots(ctx, snaps); err != nil {
		return 0, fmt.Errorf("upsert snapshots: %w", err)
	}
	return len(snaps), nil
}

// Build derives one snapshot row from an asset's samples ordered newest
// first. Horizon prices fall back to the current price when no sample is
// old enough, so a freshly listed asset yields 0% change instead of a
// divide-by-zero.
func Build(asset storage.Asset, points []storage.PricePoint, now time.Time) storage.PriceSnapshot {
	current := points[0].Price
	return storage.PriceSnapshot{
		AssetID:      asset.ID,
		Symbol:       asset.Symbol,
		CurrentPrice: current,
		Price1hAgo:   priceAtOrBefore(points, now.Add(-time.Hour), current),
		Price24hAgo:  priceAtOrBefore(points, now.Add(-24*time.Hour), current),
		Price7dAgo:   priceAtOrBefore(points, now.Add(-lookback), current),
		LastUpdate:   now,
	}
}

// priceAtOrBefore returns the most recent sample with timestamp at or
// before cutoff. Points are ordered newest first, so the first match is
// the closest to the horizon.
func priceAtOrBefore(points []storage.PricePoint, cutoff time.Time, fallback decimal.Decimal) decimal.Decimal {
	for _, p := range points {
		if !p.Timestamp.After(cutoff) {
			return p.Price
		}
	}
	return fallback
}
