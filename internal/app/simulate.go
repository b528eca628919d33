package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"token-watch/internal/engine"
	"token-watch/internal/fetcher"
	"token-watch/internal/rule"
	"token-watch/internal/storage"
)

// Simulate drives a threshold rule through synthetic ticks against the
// in-memory store and prints every emitted event. Useful for verifying
// trigger configuration without touching the database.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.PriceMovePct <= 0 {
		return errors.New("--move must be greater than zero")
	}
	ticks := opts.Ticks
	if ticks <= 0 {
		ticks = 3
	}

	store := storage.NewMemoryStore()
	source := &rampFetcher{
		price:   decimal.NewFromInt(100),
		movePct: decimal.NewFromFloat(opts.PriceMovePct),
	}

	r := rule.Rule{
		ID:      "sim-threshold",
		OwnerID: "simulator",
		Kind:    rule.KindThreshold,
		Subject: rule.Subject{Token: "SIM", Timeframe: "1m"},
		Enabled: true,
		Stage:   rule.StageWatching,
		Status:  rule.StatusActive,
		Payload: &rule.ThresholdState{
			Triggers: []rule.TriggerSpec{
				{Metric: rule.MetricPrice, MinChangePct: decimal.NewFromFloat(opts.PriceMovePct / 2)},
			},
			Need:            1,
			MaxStage:        3,
			CooldownSeconds: 60,
		},
	}
	if err := store.CreateRule(ctx, r); err != nil {
		return err
	}

	eng := engine.New(engine.Options{
		BatchSize:     10,
		RetentionDays: 1,
	}, store, store, nil, source, nil, nil, a.Logger)

	now := time.Now().UTC().Truncate(time.Minute)
	for i := 0; i < ticks; i++ {
		if err := eng.Tick(ctx, now.Add(time.Duration(i)*time.Minute)); err != nil {
			return err
		}
	}

	events, err := store.ListEventsAfter(ctx, time.Time{}, "", 0)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no events emitted")
		return nil
	}
	for _, ev := range events {
		fmt.Fprintf(os.Stdout, "%s %s %s %s\n", ev.OccurredAt.Format(time.RFC3339), ev.Type, ev.Subject, ev.Detail)
	}
	return nil
}

// rampFetcher returns a price that climbs by movePct each fetch.
type rampFetcher struct {
	price   decimal.Decimal
	movePct decimal.Decimal
}

func (f *rampFetcher) FetchSnapshot(context.Context, rule.Subject) (rule.Snapshot, error) {
	snap := rule.Snapshot{
		Timestamp:  time.Now().UTC(),
		Price:      f.price,
		Volume:     decimal.NewFromInt(1000),
		TradeCount: 10,
	}
	step := f.price.Mul(f.movePct).Div(decimal.NewFromInt(100))
	f.price = f.price.Add(step)
	return snap, nil
}

var _ fetcher.ObservationFetcher = (*rampFetcher)(nil)
