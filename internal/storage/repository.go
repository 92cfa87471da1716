package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	listAssetsSQL = `SELECT id, symbol, name FROM assets ORDER BY id;`

	listPricePointsSinceSQL = `SELECT
        asset_id, ts, price, volume
    FROM price_points
    WHERE asset_id = $1
      AND ts >= $2
    ORDER BY ts DESC;`

	listPricePointsBetweenSQL = `SELECT
        asset_id, ts, price, volume
    FROM price_points
    WHERE asset_id = $1
      AND ts >= $2
      AND ts < $3
    ORDER BY ts;`

	upsertSnapshotSQL = `INSERT INTO price_snapshots (
        asset_id,
        symbol,
        current_price,
        price_1h_ago,
        price_24h_ago,
        price_7d_ago,
        last_update
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (asset_id) DO UPDATE
    SET
        symbol        = EXCLUDED.symbol,
        current_price = EXCLUDED.current_price,
        price_1h_ago  = EXCLUDED.price_1h_ago,
        price_24h_ago = EXCLUDED.price_24h_ago,
        price_7d_ago  = EXCLUDED.price_7d_ago,
        last_update   = EXCLUDED.last_update;`

	getSnapshotSQL = `SELECT
        asset_id, symbol, current_price, price_1h_ago, price_24h_ago, price_7d_ago, last_update
    FROM price_snapshots
    WHERE asset_id = $1;`

	listSnapshotsSQL = `SELECT
        asset_id, symbol, current_price, price_1h_ago, price_24h_ago, price_7d_ago, last_update
    FROM price_snapshots
    ORDER BY asset_id;`

	listActiveRulesSQL = `SELECT
        id, kind, asset_id, threshold_pct, cooldown_minutes, is_active
    FROM alert_rules
    WHERE is_active
    ORDER BY id;`

	lastEventAtSQL = `SELECT MAX(triggered_at)
    FROM alert_events
    WHERE rule_id = $1
      AND asset_id = $2;`

	insertEventSQL = `INSERT INTO alert_events (
        id, rule_id, asset_id, symbol, kind,
        trigger_value, previous_value, percent_change,
        severity, message, triggered_at, status, error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    );`

	updateEventStatusSQL = `UPDATE alert_events
    SET status = $2, error = $3
    WHERE id = $1;`

	listRecentEventsSQL = `SELECT
        id, rule_id, asset_id, symbol, kind,
        trigger_value, previous_value, percent_change,
        severity, message, triggered_at, status, error, created_at
    FROM alert_events
    ORDER BY triggered_at DESC
    LIMIT $1;`

	deleteEventsBeforeSQL = `DELETE FROM alert_events WHERE triggered_at < $1;`

	listActiveUserAlertsSQL = `SELECT
        a.id, a.user_id, a.asset_id, s.symbol, a.kind, a.target_price,
        a.is_repeating, a.is_active, a.last_known_price, a.last_checked_at,
        a.last_triggered_at, a.trigger_count
    FROM user_alerts a
    JOIN assets s ON s.id = a.asset_id
    WHERE a.is_active
    ORDER BY a.asset_id, a.id;`

	updateUserAlertSQL = `UPDATE user_alerts
    SET is_active = $2,
        last_known_price = $3,
        last_checked_at = $4,
        last_triggered_at = $5,
        trigger_count = $6
    WHERE id = $1;`

	insertTriggerSQL = `INSERT INTO alert_triggers (
        id, user_alert_id, user_id, asset_id, symbol, source,
        target_price, actual_price, diff_pct, reason,
        triggered_at, was_notified, method
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    );`

	updateTriggerDeliverySQL = `UPDATE alert_triggers
    SET was_notified = $2, method = $3
    WHERE id = $1;`

	listRecentTriggersSQL = `SELECT
        id, user_alert_id, user_id, asset_id, symbol, source,
        target_price, actual_price, diff_pct, reason,
        triggered_at, was_notified, method
    FROM alert_triggers
    ORDER BY triggered_at DESC
    LIMIT $1;`

	deleteTriggersBeforeSQL = `DELETE FROM alert_triggers WHERE triggered_at < $1;`

	listWatchedAssetsSQL = `SELECT
        w.id, w.user_id, i.asset_id, s.symbol, i.last_known_price
    FROM watchlists w
    JOIN watchlist_items i ON i.watchlist_id = w.id
    JOIN assets s ON s.id = i.asset_id
    ORDER BY w.user_id, w.id, i.asset_id;`

	updateWatchedPriceSQL = `UPDATE watchlist_items
    SET last_known_price = $3
    WHERE watchlist_id = $1
      AND asset_id = $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PricePointStore reads the time-ordered price series owned by the
// ingestion producer.
type PricePointStore interface {
	ListAssets(ctx context.Context) ([]Asset, error)
	ListPricePointsSince(ctx context.Context, assetID int64, since time.Time) ([]PricePoint, error)
	ListPricePointsBetween(ctx context.Context, assetID int64, from, to time.Time) ([]PricePoint, error)
}

// SnapshotStore persists the per-asset price cache.
type SnapshotStore interface {
	UpsertSnapshots(ctx context.Context, snaps []PriceSnapshot) error
	GetSnapshot(ctx context.Context, assetID int64) (*PriceSnapshot, error)
	ListSnapshots(ctx context.Context) ([]PriceSnapshot, error)
}

// RuleStore exposes global alert rules and the cooldown lookup.
type RuleStore interface {
	ListActiveRules(ctx context.Context) ([]AlertRule, error)
	LastEventAt(ctx context.Context, ruleID, assetID int64) (*time.Time, error)
}

// EventStore persists global alert events.
type EventStore interface {
	InsertEvent(ctx context.Context, event AlertEvent) error
	UpdateEventStatus(ctx context.Context, id, status string, errMsg *string) error
	ListRecentEvents(ctx context.Context, limit int) ([]AlertEvent, error)
	DeleteEventsBefore(ctx context.Context, olderThan time.Time) error
}

// UserAlertStore exposes user-authored alerts.
type UserAlertStore interface {
	ListActiveUserAlerts(ctx context.Context) ([]UserAlert, error)
	UpdateUserAlert(ctx context.Context, alert UserAlert) error
}

// TriggerStore persists alert trigger history.
type TriggerStore interface {
	InsertTrigger(ctx context.Context, trigger AlertTrigger) error
	UpdateTriggerDelivery(ctx context.Context, id string, notified bool, method *string) error
	ListRecentTriggers(ctx context.Context, limit int) ([]AlertTrigger, error)
	DeleteTriggersBefore(ctx context.Context, olderThan time.Time) error
}

// WatchlistStore exposes watched assets and the per-item crossing state.
type WatchlistStore interface {
	ListWatchedAssets(ctx context.Context) ([]WatchedAsset, error)
	UpdateWatchedPrice(ctx context.Context, watchlistID, assetID int64, price decimal.Decimal) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to all alert pipeline tables.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort; the lock dies with the session anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// ListAssets returns all tracked assets.
func (s *Store) ListAssets(ctx context.Context) ([]Asset, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAssetsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list assets: %w", queryErr)
	}
	defer rows.Close()

	assets := make([]Asset, 0)
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.ID, &a.Symbol, &a.Name); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return assets, nil
}

// ListPricePointsSince lists samples for one asset newest first.
func (s *Store) ListPricePointsSince(ctx context.Context, assetID int64, since time.Time) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricePointsSinceSQL, assetID, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list price points since: %w", queryErr)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// ListPricePointsBetween lists samples for one asset within a window, oldest first.
func (s *Store) ListPricePointsBetween(ctx context.Context, assetID int64, from, to time.Time) ([]PricePoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listPricePointsBetweenSQL, assetID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list price points between: %w", queryErr)
	}
	defer rows.Close()

	return scanPricePoints(rows)
}

// UpsertSnapshots writes one cache row per asset in a single batch.
func (s *Store) UpsertSnapshots(ctx context.Context, snaps []PriceSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, snap := range snaps {
		batch.Queue(upsertSnapshotSQL,
			snap.AssetID,
			snap.Symbol,
			snap.CurrentPrice.String(),
			snap.Price1hAgo.String(),
			snap.Price24hAgo.String(),
			snap.Price7dAgo.String(),
			snap.LastUpdate,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for range snaps {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("upsert snapshot: %w", execErr)
		}
	}
	return nil
}

// GetSnapshot fetches the cache row for one asset, nil when absent.
func (s *Store) GetSnapshot(ctx context.Context, assetID int64) (*PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	row := pool.QueryRow(ctx, getSnapshotSQL, assetID)
	snap, scanErr := scanSnapshotRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, scanErr
	}
	return &snap, nil
}

// ListSnapshots returns every cache row.
func (s *Store) ListSnapshots(ctx context.Context) ([]PriceSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]PriceSnapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshotRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// ListActiveRules returns all enabled global rules.
func (s *Store) ListActiveRules(ctx context.Context) ([]AlertRule, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveRulesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active rules: %w", queryErr)
	}
	defer rows.Close()

	rules := make([]AlertRule, 0)
	for rows.Next() {
		var (
			rule         AlertRule
			assetID      *int64
			thresholdStr string
			cooldownMins int
		)
		if err := rows.Scan(&rule.ID, &rule.Kind, &assetID, &thresholdStr, &cooldownMins, &rule.Active); err != nil {
			return nil, err
		}
		threshold, convErr := decimal.NewFromString(thresholdStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse rule threshold: %w", convErr)
		}
		rule.AssetID = assetID
		rule.ThresholdPct = threshold
		rule.Cooldown = time.Duration(cooldownMins) * time.Minute
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rules, nil
}

// LastEventAt returns the most recent event timestamp for a (rule, asset)
// pair, nil when the pair has never fired. Cooldown decisions are made
// against this query rather than in-process state so they survive restarts.
func (s *Store) LastEventAt(ctx context.Context, ruleID, assetID int64) (*time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var last *time.Time
	if scanErr := pool.QueryRow(ctx, lastEventAtSQL, ruleID, assetID).Scan(&last); scanErr != nil {
		return nil, fmt.Errorf("last event at: %w", scanErr)
	}
	return last, nil
}

// InsertEvent persists a global alert event.
func (s *Store) InsertEvent(ctx context.Context, event AlertEvent) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg interface{}
	if event.Error != nil {
		errMsg = *event.Error
	}

	_, execErr := pool.Exec(ctx, insertEventSQL,
		event.ID,
		event.RuleID,
		event.AssetID,
		event.Symbol,
		event.Kind,
		event.TriggerValue.String(),
		event.PreviousValue.String(),
		event.PercentChange.String(),
		event.Severity,
		event.Message,
		event.TriggeredAt,
		event.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("insert event: %w", execErr)
	}
	return nil
}

// UpdateEventStatus records the delivery outcome for an event.
func (s *Store) UpdateEventStatus(ctx context.Context, id, status string, errMsg *string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var msg interface{}
	if errMsg != nil {
		msg = *errMsg
	}

	cmdTag, execErr := pool.Exec(ctx, updateEventStatusSQL, id, status, msg)
	if execErr != nil {
		return fmt.Errorf("update event status: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecentEvents lists most recent events.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]AlertEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]AlertEvent, 0, limit)
	for rows.Next() {
		var (
			event       AlertEvent
			triggerStr  string
			previousStr string
			changeStr   string
		)
		if err := rows.Scan(
			&event.ID,
			&event.RuleID,
			&event.AssetID,
			&event.Symbol,
			&event.Kind,
			&triggerStr,
			&previousStr,
			&changeStr,
			&event.Severity,
			&event.Message,
			&event.TriggeredAt,
			&event.Status,
			&event.Error,
			&event.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		if event.TriggerValue, convErr = decimal.NewFromString(triggerStr); convErr != nil {
			return nil, fmt.Errorf("parse trigger value: %w", convErr)
		}
		if event.PreviousValue, convErr = decimal.NewFromString(previousStr); convErr != nil {
			return nil, fmt.Errorf("parse previous value: %w", convErr)
		}
		if event.PercentChange, convErr = decimal.NewFromString(changeStr); convErr != nil {
			return nil, fmt.Errorf("parse percent change: %w", convErr)
		}

		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// DeleteEventsBefore deletes historical events.
func (s *Store) DeleteEventsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteEventsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete events before: %w", execErr)
	}
	return nil
}

// ListActiveUserAlerts returns all active user alerts joined with asset symbols.
func (s *Store) ListActiveUserAlerts(ctx context.Context) ([]UserAlert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveUserAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list active user alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]UserAlert, 0)
	for rows.Next() {
		var (
			alert        UserAlert
			targetStr    string
			lastKnownStr *string
		)
		if err := rows.Scan(
			&alert.ID,
			&alert.UserID,
			&alert.AssetID,
			&alert.Symbol,
			&alert.Kind,
			&targetStr,
			&alert.Repeating,
			&alert.Active,
			&lastKnownStr,
			&alert.LastCheckedAt,
			&alert.LastTriggeredAt,
			&alert.TriggerCount,
		); err != nil {
			return nil, err
		}

		target, convErr := decimal.NewFromString(targetStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse target price: %w", convErr)
		}
		alert.TargetPrice = target

		if lastKnownStr != nil {
			lastKnown, convErr := decimal.NewFromString(*lastKnownStr)
			if convErr != nil {
				return nil, fmt.Errorf("parse last known price: %w", convErr)
			}
			alert.LastKnownPrice = &lastKnown
		}

		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// UpdateUserAlert persists the mutable evaluation state of one alert.
func (s *Store) UpdateUserAlert(ctx context.Context, alert UserAlert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var lastKnown interface{}
	if alert.LastKnownPrice != nil {
		lastKnown = alert.LastKnownPrice.String()
	}

	cmdTag, execErr := pool.Exec(ctx, updateUserAlertSQL,
		alert.ID,
		alert.Active,
		lastKnown,
		alert.LastCheckedAt,
		alert.LastTriggeredAt,
		alert.TriggerCount,
	)
	if execErr != nil {
		return fmt.Errorf("update user alert: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// InsertTrigger appends an alert trigger history row.
func (s *Store) InsertTrigger(ctx context.Context, trigger AlertTrigger) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var method interface{}
	if trigger.Method != nil {
		method = *trigger.Method
	}

	_, execErr := pool.Exec(ctx, insertTriggerSQL,
		trigger.ID,
		trigger.UserAlertID,
		trigger.UserID,
		trigger.AssetID,
		trigger.Symbol,
		trigger.Source,
		trigger.TargetPrice.String(),
		trigger.ActualPrice.String(),
		trigger.DiffPct.String(),
		trigger.Reason,
		trigger.TriggeredAt,
		trigger.Notified,
		method,
	)
	if execErr != nil {
		return fmt.Errorf("insert trigger: %w", execErr)
	}
	return nil
}

// UpdateTriggerDelivery records the delivery outcome for a trigger row.
func (s *Store) UpdateTriggerDelivery(ctx context.Context, id string, notified bool, method *string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var m interface{}
	if method != nil {
		m = *method
	}

	cmdTag, execErr := pool.Exec(ctx, updateTriggerDeliverySQL, id, notified, m)
	if execErr != nil {
		return fmt.Errorf("update trigger delivery: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListRecentTriggers lists most recent trigger history rows.
func (s *Store) ListRecentTriggers(ctx context.Context, limit int) ([]AlertTrigger, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTriggersSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent triggers: %w", queryErr)
	}
	defer rows.Close()

	triggers := make([]AlertTrigger, 0, limit)
	for rows.Next() {
		var (
			trigger   AlertTrigger
			targetStr string
			actualStr string
			diffStr   string
		)
		if err := rows.Scan(
			&trigger.ID,
			&trigger.UserAlertID,
			&trigger.UserID,
			&trigger.AssetID,
			&trigger.Symbol,
			&trigger.Source,
			&targetStr,
			&actualStr,
			&diffStr,
			&trigger.Reason,
			&trigger.TriggeredAt,
			&trigger.Notified,
			&trigger.Method,
		); err != nil {
			return nil, err
		}

		var convErr error
		if trigger.TargetPrice, convErr = decimal.NewFromString(targetStr); convErr != nil {
			return nil, fmt.Errorf("parse target price: %w", convErr)
		}
		if trigger.ActualPrice, convErr = decimal.NewFromString(actualStr); convErr != nil {
			return nil, fmt.Errorf("parse actual price: %w", convErr)
		}
		if trigger.DiffPct, convErr = decimal.NewFromString(diffStr); convErr != nil {
			return nil, fmt.Errorf("parse diff pct: %w", convErr)
		}

		triggers = append(triggers, trigger)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return triggers, nil
}

// DeleteTriggersBefore deletes historical trigger rows.
func (s *Store) DeleteTriggersBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteTriggersBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete triggers before: %w", execErr)
	}
	return nil
}

// ListWatchedAssets returns every (watchlist, asset) pair across all users.
func (s *Store) ListWatchedAssets(ctx context.Context) ([]WatchedAsset, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listWatchedAssetsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list watched assets: %w", queryErr)
	}
	defer rows.Close()

	watched := make([]WatchedAsset, 0)
	for rows.Next() {
		var (
			item         WatchedAsset
			lastKnownStr *string
		)
		if err := rows.Scan(&item.WatchlistID, &item.UserID, &item.AssetID, &item.Symbol, &lastKnownStr); err != nil {
			return nil, err
		}

		if lastKnownStr != nil {
			lastKnown, convErr := decimal.NewFromString(*lastKnownStr)
			if convErr != nil {
				return nil, fmt.Errorf("parse watched last price: %w", convErr)
			}
			item.LastKnownPrice = &lastKnown
		}

		watched = append(watched, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return watched, nil
}

// UpdateWatchedPrice stores the last price seen for a watchlist item.
func (s *Store) UpdateWatchedPrice(ctx context.Context, watchlistID, assetID int64, price decimal.Decimal) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, updateWatchedPriceSQL, watchlistID, assetID, price.String()); execErr != nil {
		return fmt.Errorf("update watched price: %w", execErr)
	}
	return nil
}

type snapshotScanner interface {
	Scan(dest ...any) error
}

func scanSnapshotRow(row snapshotScanner) (PriceSnapshot, error) {
	var (
		snap       PriceSnapshot
		currentStr string
		h1Str      string
		h24Str     string
		d7Str      string
	)

	if err := row.Scan(
		&snap.AssetID,
		&snap.Symbol,
		&currentStr,
		&h1Str,
		&h24Str,
		&d7Str,
		&snap.LastUpdate,
	); err != nil {
		return PriceSnapshot{}, err
	}

	var convErr error
	if snap.CurrentPrice, convErr = decimal.NewFromString(currentStr); convErr != nil {
		return PriceSnapshot{}, fmt.Errorf("parse current price: %w", convErr)
	}
	if snap.Price1hAgo, convErr = decimal.NewFromString(h1Str); convErr != nil {
		return PriceSnapshot{}, fmt.Errorf("parse 1h price: %w", convErr)
	}
	if snap.Price24hAgo, convErr = decimal.NewFromString(h24Str); convErr != nil {
		return PriceSnapshot{}, fmt.Errorf("parse 24h price: %w", convErr)
	}
	if snap.Price7dAgo, convErr = decimal.NewFromString(d7Str); convErr != nil {
		return PriceSnapshot{}, fmt.Errorf("parse 7d price: %w", convErr)
	}

	return snap, nil
}

func scanPricePoints(rows pgx.Rows) ([]PricePoint, error) {
	points := make([]PricePoint, 0)
	for rows.Next() {
		var (
			point     PricePoint
			priceStr  string
			volumeStr string
		)
		if err := rows.Scan(&point.AssetID, &point.Timestamp, &priceStr, &volumeStr); err != nil {
			return nil, err
		}

		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			return nil, fmt.Errorf("parse price: %w", err)
		}
		volume, err := decimal.NewFromString(volumeStr)
		if err != nil {
			return nil, fmt.Errorf("parse volume: %w", err)
		}

		point.Price = price
		point.Volume = volume
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}
