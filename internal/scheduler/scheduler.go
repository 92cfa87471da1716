package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per scheduled cycle.
type TickFunc func(ctx context.Context) error

// Options tune scheduler behaviour. Interval is a fixed delay measured from
// the end of one tick to the start of the next, so slow ticks self-throttle
// instead of piling up.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
	RunOnStart   bool
}

// Scheduler drives the recurring detection cycle.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking the tick function after each fixed delay until ctx is
// cancelled. Tick errors are logged, never fatal; the next delay starts once
// the tick returns.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.wait(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.RunOnStart {
		s.invoke(ctx, tick)
	}

	for {
		if err := s.wait(ctx, s.opts.Interval); err != nil {
			return err
		}
		s.invoke(ctx, tick)
	}
}

func (s *Scheduler) invoke(ctx context.Context, tick TickFunc) {
	started := time.Now()
	s.logger.Debug().Msg("executing scheduled tick")
	if err := tick(ctx); err != nil {
		s.logger.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("tick execution failed")
		return
	}
	s.logger.Debug().Dur("elapsed", time.Since(started)).Msg("tick completed")
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
