package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunInvokesTickRepeatedly(t *testing.T) {
	s := New(Options{Interval: 5 * time.Millisecond}, zerolog.Nop())

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) error {
			if ticks.Add(1) >= 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	if got := ticks.Load(); got < 3 {
		t.Fatalf("ticks = %d, want at least 3", got)
	}
}

func TestRunOnStartFiresBeforeFirstInterval(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())

	fired := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, func(ctx context.Context) error {
		close(fired)
		cancel()
		return nil
	})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("run-on-start tick never fired")
	}
}

func TestTickErrorsAreNotFatal(t *testing.T) {
	s := New(Options{Interval: time.Millisecond}, zerolog.Nop())

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) error {
			if ticks.Add(1) >= 2 {
				cancel()
			}
			return errors.New("tick exploded")
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler stopped retrying after a failed tick")
	}
	if ticks.Load() < 2 {
		t.Fatalf("scheduler must keep ticking past failures")
	}
}

func TestCancelDuringStartupDelay(t *testing.T) {
	s := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) error {
			t.Error("tick must not fire during startup delay")
			return nil
		})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler ignored cancellation during startup delay")
	}
}

func TestNewPanicsOnNonPositiveInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for zero interval")
		}
	}()
	New(Options{}, zerolog.Nop())
}
