// Package cycle drives the recurring alert detection cycle: refresh the
// price cache, evaluate rule and alert engines, dispatch what fired.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"price-pulse/internal/dispatch"
	"price-pulse/internal/metrics"
	"price-pulse/internal/storage"
)

// ErrCycleInFlight is returned when a cycle is requested while a previous
// one is still running. Triggers are rejected, never queued.
var ErrCycleInFlight = errors.New("cycle: already in flight")

// CacheRefresher rebuilds the snapshot cache.
type CacheRefresher interface {
	Refresh(ctx context.Context, now time.Time) (int, error)
}

// RuleEvaluator evaluates global rules against snapshot rows.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, now time.Time, snaps []storage.PriceSnapshot) ([]storage.AlertEvent, error)
}

// TriggerEvaluator evaluates per-user alerts against snapshot prices.
type TriggerEvaluator interface {
	Evaluate(ctx context.Context, now time.Time, snaps map[int64]storage.PriceSnapshot) ([]storage.AlertTrigger, error)
}

// Dispatcher hands fired events to live subscribers.
type Dispatcher interface {
	DispatchEvent(ctx context.Context, event storage.AlertEvent) dispatch.Result
	DispatchTrigger(ctx context.Context, trigger storage.AlertTrigger) dispatch.Result
}

// Options configure the orchestrator.
type Options struct {
	// AdvisoryLockKey guards the cycle across instances sharing one
	// database. Zero disables the database lock; the in-process
	// try-acquire flag always applies.
	AdvisoryLockKey int64
}

// Orchestrator owns the cycle state machine. Both entry points are
// reentrancy-guarded with non-blocking flags; the timer and any manual
// trigger funnel through the same method.
type Orchestrator struct {
	refresher  CacheRefresher
	snapshots  storage.SnapshotStore
	rules      RuleEvaluator
	userAlerts TriggerEvaluator
	watchlist  TriggerEvaluator
	dispatcher Dispatcher
	locker     storage.AdvisoryLocker
	opts       Options
	logger     zerolog.Logger

	cycleRunning atomic.Bool
	watchRunning atomic.Bool
}

// New wires the orchestrator. watchlist and locker may be nil.
func New(refresher CacheRefresher, snapshots storage.SnapshotStore, rules RuleEvaluator, userAlerts TriggerEvaluator, watchlist TriggerEvaluator, dispatcher Dispatcher, locker storage.AdvisoryLocker, opts Options, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		refresher:  refresher,
		snapshots:  snapshots,
		rules:      rules,
		userAlerts: userAlerts,
		watchlist:  watchlist,
		dispatcher: dispatcher,
		locker:     locker,
		opts:       opts,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
	}
}

// RunCycle executes one full detection cycle. A cycle already in flight
// rejects the call with ErrCycleInFlight. A cancelled context stops the
// cycle between phases and items; state persisted up to that point
// remains valid.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	if !o.cycleRunning.CompareAndSwap(false, true) {
		metrics.CyclesTotal.WithLabelValues("rejected").Inc()
		return ErrCycleInFlight
	}
	defer o.cycleRunning.Store(false)

	unlock, proceed, err := o.acquireDatabaseLock(ctx)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues("failed").Inc()
		return err
	}
	if !proceed {
		o.logger.Debug().Msg("cycle skipped; advisory lock held elsewhere")
		metrics.CyclesTotal.WithLabelValues("rejected").Inc()
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	started := time.Now()
	if err := o.executeCycle(ctx); err != nil {
		metrics.CyclesTotal.WithLabelValues("failed").Inc()
		return err
	}

	metrics.CyclesTotal.WithLabelValues("completed").Inc()
	metrics.CycleDuration.Observe(time.Since(started).Seconds())
	return nil
}

func (o *Orchestrator) executeCycle(ctx context.Context) error {
	now := time.Now().UTC()

	// Refreshing
	phaseStart := time.Now()
	count, err := o.refresher.Refresh(ctx, now)
	if err != nil {
		return fmt.Errorf("refresh price cache: %w", err)
	}
	metrics.PhaseDuration.WithLabelValues("refresh").Observe(time.Since(phaseStart).Seconds())
	metrics.SnapshotAssets.Set(float64(count))

	if err := ctx.Err(); err != nil {
		return err
	}

	snaps, err := o.snapshots.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	byAsset := make(map[int64]storage.PriceSnapshot, len(snaps))
	for _, snap := range snaps {
		byAsset[snap.AssetID] = snap
	}

	// Evaluating
	phaseStart = time.Now()
	events, triggers := o.evaluate(ctx, now, snaps, byAsset)
	metrics.PhaseDuration.WithLabelValues("evaluate").Observe(time.Since(phaseStart).Seconds())

	if err := ctx.Err(); err != nil {
		return err
	}

	// Dispatching
	phaseStart = time.Now()
	o.dispatchAll(ctx, events, triggers)
	metrics.PhaseDuration.WithLabelValues("dispatch").Observe(time.Since(phaseStart).Seconds())

	o.logger.Info().
		Int("assets", count).
		Int("events", len(events)).
		Int("triggers", len(triggers)).
		Msg("cycle completed")
	return nil
}

// evaluate runs the three engines. Engine-level failures abort only that
// engine's contribution; empty rule sets or watchlists are no-ops.
func (o *Orchestrator) evaluate(ctx context.Context, now time.Time, snaps []storage.PriceSnapshot, byAsset map[int64]storage.PriceSnapshot) ([]storage.AlertEvent, []storage.AlertTrigger) {
	var triggers []storage.AlertTrigger

	events, err := o.rules.Evaluate(ctx, now, snaps)
	if err != nil {
		o.logger.Error().Err(err).Msg("rule evaluation aborted")
	}

	if ctx.Err() != nil {
		return events, triggers
	}

	userTriggers, err := o.userAlerts.Evaluate(ctx, now, byAsset)
	if err != nil {
		o.logger.Error().Err(err).Msg("user alert evaluation aborted")
	}
	triggers = append(triggers, userTriggers...)

	if ctx.Err() != nil {
		return events, triggers
	}

	if o.watchlist != nil {
		watchTriggers, err := o.watchlist.Evaluate(ctx, now, byAsset)
		if err != nil {
			o.logger.Error().Err(err).Msg("watchlist evaluation aborted")
		}
		triggers = append(triggers, watchTriggers...)
	}

	return events, triggers
}

func (o *Orchestrator) dispatchAll(ctx context.Context, events []storage.AlertEvent, triggers []storage.AlertTrigger) {
	for _, event := range events {
		if ctx.Err() != nil {
			return
		}
		result := o.dispatcher.DispatchEvent(ctx, event)
		metrics.EventsTotal.WithLabelValues(event.Severity).Inc()
		metrics.DispatchTotal.WithLabelValues("broadcast", metrics.DispatchOutcome(result.Sent)).Inc()
	}

	for _, trigger := range triggers {
		if ctx.Err() != nil {
			return
		}
		result := o.dispatcher.DispatchTrigger(ctx, trigger)
		metrics.TriggersTotal.WithLabelValues(trigger.Source).Inc()
		metrics.DispatchTotal.WithLabelValues("targeted", metrics.DispatchOutcome(result.Sent)).Inc()
	}
}

// MonitorWatchlists runs a watchlist-only pass against the current cache
// without refreshing it. Guarded independently of the full cycle.
func (o *Orchestrator) MonitorWatchlists(ctx context.Context) error {
	if o.watchlist == nil {
		return nil
	}
	if !o.watchRunning.CompareAndSwap(false, true) {
		return ErrCycleInFlight
	}
	defer o.watchRunning.Store(false)

	now := time.Now().UTC()

	snaps, err := o.snapshots.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	byAsset := make(map[int64]storage.PriceSnapshot, len(snaps))
	for _, snap := range snaps {
		byAsset[snap.AssetID] = snap
	}

	triggers, err := o.watchlist.Evaluate(ctx, now, byAsset)
	if err != nil {
		return fmt.Errorf("watchlist evaluation: %w", err)
	}

	for _, trigger := range triggers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result := o.dispatcher.DispatchTrigger(ctx, trigger)
		metrics.TriggersTotal.WithLabelValues(trigger.Source).Inc()
		metrics.DispatchTotal.WithLabelValues("targeted", metrics.DispatchOutcome(result.Sent)).Inc()
	}
	return nil
}

func (o *Orchestrator) acquireDatabaseLock(ctx context.Context) (func(), bool, error) {
	if o.opts.AdvisoryLockKey == 0 || o.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := o.locker.TryAdvisoryLock(ctx, o.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
