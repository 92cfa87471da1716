package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-pulse/internal/config"
	"price-pulse/internal/cycle"
	"price-pulse/internal/dispatch"
	"price-pulse/internal/realtime"
	"price-pulse/internal/rules"
	"price-pulse/internal/scheduler"
	"price-pulse/internal/snapshot"
	"price-pulse/internal/storage"
	"price-pulse/internal/useralerts"
	"price-pulse/internal/version"
	"price-pulse/internal/watchlist"
)

const dispatchMethod = "websocket"

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, errors.New("database.dsn is not configured")
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newOrchestrator(store *storage.Store, hub *realtime.Hub) *cycle.Orchestrator {
	refresher := snapshot.NewRefresher(store, store, a.Logger)
	ruleEngine := rules.NewEngine(store, store, a.Logger)
	alertEngine := useralerts.NewEngine(store, store,
		a.Config.Alerting.UserCooldown, a.Config.Alerting.ReachesTolerance, a.Logger)

	var watchEngine cycle.TriggerEvaluator
	if a.Config.Watchlist.Enabled {
		watchEngine = watchlist.NewEngine(store, store, a.heuristics(), a.Logger)
	}

	dispatcher := dispatch.NewDispatcher(hub, store, store, dispatchMethod, a.Logger)

	return cycle.New(refresher, store, ruleEngine, alertEngine, watchEngine, dispatcher, store,
		cycle.Options{AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey}, a.Logger)
}

func (a *App) heuristics() watchlist.Heuristics {
	h := watchlist.DefaultHeuristics()
	if a.Config.Watchlist.MomentumPct > 0 {
		h.MomentumPct = decimal.NewFromFloat(a.Config.Watchlist.MomentumPct)
	}
	if a.Config.Watchlist.TargetOffset > 0 {
		h.TargetOffset = decimal.NewFromFloat(a.Config.Watchlist.TargetOffset)
	}
	if a.Config.Watchlist.RoundMinDrift > 0 {
		h.RoundMinDrift = decimal.NewFromFloat(a.Config.Watchlist.RoundMinDrift)
	}
	return h
}

// Run executes the long-running detection service: the realtime push
// server plus the scheduled cycle loop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	hub := realtime.NewHub(a.Logger)
	orch := a.newOrchestrator(store, hub)

	if a.Config.Realtime.Enabled {
		server := realtime.NewServer(a.Config.Realtime.ListenAddr, hub, a.Logger)
		go func() {
			if err := server.Run(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("realtime server terminated")
				cancel()
			}
		}()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	a.Logger.Info().Str("build", version.String()).Msg("starting alert detection service")
	err = sched.Run(ctx, orch.RunCycle)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert detection service stopped")
	return nil
}

// TriggerCycle runs one detection cycle immediately, outside the
// scheduler. Used by the administrative trigger command.
func (a *App) TriggerCycle(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	orch := a.newOrchestrator(store, realtime.NewHub(a.Logger))
	return orch.RunCycle(ctx)
}

// MonitorWatchlists runs a watchlist-only pass against the current cache.
func (a *App) MonitorWatchlists(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	orch := a.newOrchestrator(store, realtime.NewHub(a.Logger))
	return orch.MonitorWatchlists(ctx)
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	Triggers bool
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	AssetID   int64
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// PruneOptions configure history cleanup.
type PruneOptions struct {
	OlderThan time.Duration
}
