package app

import (
	"context"
	"errors"
	"time"
)

// Prune deletes alert events and trigger history older than the retention
// window. Price points belong to the ingestion producer and are left alone.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.OlderThan <= 0 {
		return errors.New("--older-than must be greater than zero")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	cutoff := time.Now().UTC().Add(-opts.OlderThan)

	if err := store.DeleteEventsBefore(ctx, cutoff); err != nil {
		return err
	}
	if err := store.DeleteTriggersBefore(ctx, cutoff); err != nil {
		return err
	}

	a.Logger.Info().Time("cutoff", cutoff).Msg("pruned alert history")
	return nil
}
