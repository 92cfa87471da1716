package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset identifies a tracked instrument.
type Asset struct {
	ID     int64
	Symbol string
	Name   string
}

// PricePoint is one immutable market sample written by the ingestion producer.
type PricePoint struct {
	AssetID   int64
	Timestamp time.Time
	Price     decimal.Decimal
	Volume    decimal.Decimal
}

// PriceSnapshot is the per-asset cache row materialised on every cycle:
// the current price plus reference prices at the 1h/24h/7d horizons.
// At most one row exists per asset; the row is upserted, never appended.
type PriceSnapshot struct {
	AssetID      int64
	Symbol       string
	CurrentPrice decimal.Decimal
	Price1hAgo   decimal.Decimal
	Price24hAgo  decimal.Decimal
	Price7dAgo   decimal.Decimal
	LastUpdate   time.Time
}

// AlertRule is a market-wide or asset-scoped percent-change rule.
// AssetID nil means the rule applies to every asset with a snapshot.
type AlertRule struct {
	ID           int64
	Kind         string
	AssetID      *int64
	ThresholdPct decimal.Decimal
	Cooldown     time.Duration
	Active       bool
}

// AlertEvent records one firing of a global rule against one asset.
type AlertEvent struct {
	ID            string
	RuleID        int64
	AssetID       int64
	Symbol        string
	Kind          string
	TriggerValue  decimal.Decimal
	PreviousValue decimal.Decimal
	PercentChange decimal.Decimal
	Severity      string
	Message       string
	TriggeredAt   time.Time
	Status        string
	Error         *string
	CreatedAt     time.Time
}

// Event notification statuses.
const (
	EventStatusPending = "pending"
	EventStatusSent    = "sent"
	EventStatusFailed  = "failed"
)

// UserAlert is a user-authored price alert. LastKnownPrice carries the
// previous cycle's price so threshold crossings can be told apart from
// conditions that merely keep holding.
type UserAlert struct {
	ID              int64
	UserID          int64
	AssetID         int64
	Symbol          string
	Kind            string
	TargetPrice     decimal.Decimal
	Repeating       bool
	Active          bool
	LastKnownPrice  *decimal.Decimal
	LastCheckedAt   *time.Time
	LastTriggeredAt *time.Time
	TriggerCount    int
}

// User alert kinds.
const (
	AlertKindReaches = "reaches"
	AlertKindAbove   = "above"
	AlertKindBelow   = "below"
)

// AlertTrigger is an append-only record of a user-alert or watchlist
// auto-alert firing. UserAlertID is nil for watchlist firings.
type AlertTrigger struct {
	ID          string
	UserAlertID *int64
	UserID      int64
	AssetID     int64
	Symbol      string
	Source      string
	TargetPrice decimal.Decimal
	ActualPrice decimal.Decimal
	DiffPct     decimal.Decimal
	Reason      string
	TriggeredAt time.Time
	Notified    bool
	Method      *string
}

// Trigger sources.
const (
	TriggerSourceUserAlert = "user_alert"
	TriggerSourceWatchlist = "auto_watchlist"
)

// WatchedAsset is one asset on one user's watchlist, with the last price
// seen by the heuristic engine for crossing detection.
type WatchedAsset struct {
	WatchlistID    int64
	UserID         int64
	AssetID        int64
	Symbol         string
	LastKnownPrice *decimal.Decimal
}
