package app

import (
	"context"
	"errors"
	"time"
)

// Purge runs the retention sweep on demand, deleting events and
// observations older than the given number of days.
func (a *App) Purge(ctx context.Context, opts PurgeOptions) error {
	days := opts.Days
	if days <= 0 {
		days = a.Config.Engine.RetentionDays
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot purge")
	}
	defer closeStore()

	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	deletedEvents, err := store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	deletedObs, err := store.DeleteObservationsBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Int64("events", deletedEvents).
		Int64("observations", deletedObs).
		Time("cutoff", cutoff).
		Msg("purge complete")
	return nil
}
