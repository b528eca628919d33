package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"token-watch/internal/dispatch"
	"token-watch/internal/evaluator"
	"token-watch/internal/fetcher"
	"token-watch/internal/rule"
	"token-watch/internal/storage"
)

// Error classes used in logs so operators can tell flaky data sources from
// corrupt rule rows.
const (
	errClassFetch    = "fetch"
	errClassPayload  = "payload"
	errClassPersist  = "persist"
	errClassEventLog = "eventlog"
)

// Options tune batch evaluation and retention. EvalDefaults feed the
// evaluator's configured fallbacks.
type Options struct {
	BatchSize         int
	RetentionDays     int
	CleanupEveryTicks int
	SuppressWindow    time.Duration
	FetchTimeout      time.Duration
	ObservationBucket time.Duration
	AdvisoryLockKey   int64
	EvalDefaults      evaluator.Defaults
}

// Engine drives one batch of rule evaluations per tick. All collaborators
// are injected; the engine owns no global state.
type Engine struct {
	rules        storage.RuleStore
	events       storage.EventLog
	observations storage.ObservationStore
	source       fetcher.ObservationFetcher
	hub          dispatch.Hub
	locker       storage.AdvisoryLocker
	logger       zerolog.Logger
	opts         Options

	suppress  *suppressor
	tickCount int
}

// New constructs the evaluation engine. observations, hub, and locker may
// be nil; the corresponding side effects are skipped.
func New(opts Options, rules storage.RuleStore, events storage.EventLog, observations storage.ObservationStore, source fetcher.ObservationFetcher, hub dispatch.Hub, locker storage.AdvisoryLocker, logger zerolog.Logger) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.CleanupEveryTicks <= 0 {
		opts.CleanupEveryTicks = 60
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.ObservationBucket <= 0 {
		opts.ObservationBucket = time.Minute
	}

	return &Engine{
		rules:        rules,
		events:       events,
		observations: observations,
		source:       source,
		hub:          hub,
		locker:       locker,
		logger:       logger.With().Str("component", "engine").Logger(),
		opts:         opts,
		suppress:     newSuppressor(opts.SuppressWindow),
	}
}

// Tick evaluates one batch of due rules. Satisfies scheduler.TickFunc.
// Individual rule failures never abort the batch.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	if e.locker != nil && e.opts.AdvisoryLockKey != 0 {
		unlock, acquired, err := e.locker.TryAdvisoryLock(ctx, e.opts.AdvisoryLockKey)
		if err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !acquired {
			e.logger.Debug().Time("tick", now).Msg("skip tick, advisory lock held elsewhere")
			return nil
		}
		defer unlock()
	}

	due, err := e.rules.ListDueRules(ctx, now, e.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("list due rules: %w", err)
	}

	evaluated := 0
	emitted := 0
	for _, r := range due {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fired := e.evaluateRule(ctx, r, now)
		evaluated++
		if fired {
			emitted++
		}
	}

	if evaluated > 0 || emitted > 0 {
		e.logger.Info().Time("tick", now).
			Int("evaluated", evaluated).
			Int("events", emitted).
			Msg("tick complete")
	}

	e.tickCount++
	if e.tickCount%e.opts.CleanupEveryTicks == 0 {
		e.runRetention(ctx, now)
	}

	return nil
}

// evaluateRule runs the fetch-evaluate-persist-log-dispatch pipeline for
// one rule, isolating every failure at this boundary. Reports whether an
// event was emitted.
func (e *Engine) evaluateRule(ctx context.Context, r rule.Rule, now time.Time) (fired bool) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logError(r.ID, errClassPayload, fmt.Errorf("panic: %v", rec), now)
			fired = false
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	snap, err := e.source.FetchSnapshot(fetchCtx, r.Subject)
	cancel()
	if err != nil {
		e.logError(r.ID, errClassFetch, err, now)
		return false
	}

	if e.observations != nil {
		obs := storage.ObservationRecord{
			Subject:        r.Subject.String(),
			Bucket:         now.Truncate(e.opts.ObservationBucket),
			Price:          snap.Price,
			Volume:         snap.Volume,
			TradeCount:     snap.TradeCount,
			HolderCount:    snap.HolderCount,
			HolderDelta30m: snap.HolderDelta30m,
			HolderDelta6h:  snap.HolderDelta6h,
		}
		if err := e.observations.RecordObservation(ctx, obs); err != nil {
			// History is best-effort; evaluation continues.
			e.logError(r.ID, errClassPersist, err, now)
		}
	}

	result, err := evaluator.Evaluate(r, snap, now, e.opts.EvalDefaults)
	if err != nil {
		// Evaluation touches no storage, so anything it returns means the
		// rule row itself is bad.
		e.logError(r.ID, errClassPayload, err, now)
		return false
	}

	if result.Patch.IsZero() && result.Event == nil {
		return false
	}

	if !result.Patch.IsZero() {
		if err := e.rules.UpdateRule(ctx, r.ID, result.Patch); err != nil {
			if errors.Is(err, storage.ErrRuleNotFound) {
				e.logger.Debug().Str("rule_id", r.ID).Msg("rule deleted during evaluation")
				return false
			}
			// Do not log an event for a state change that didn't persist.
			e.logError(r.ID, errClassPersist, err, now)
			return false
		}
	}

	if result.Event == nil {
		return false
	}

	if err := e.events.AppendEvent(ctx, *result.Event); err != nil {
		// State advanced but the event is missing. The event id is derived
		// from the transition, so a later retry of the same transition
		// appends the identical row.
		e.logError(r.ID, errClassEventLog, err, now)
		return false
	}

	e.logger.Info().
		Str("rule_id", r.ID).
		Str("type", result.Event.Type).
		Str("subject", r.Subject.String()).
		Str("event_id", result.Event.EventID).
		Msg("event emitted")

	if e.hub != nil {
		// Fire-and-forget; dispatch is downstream of the committed state.
		_ = e.hub.Notify(ctx, r.OwnerID, r.Channels, *result.Event)
	}

	return true
}

func (e *Engine) runRetention(ctx context.Context, now time.Time) {
	// Zero or negative means retention is off. Sweeping with an unset window
	// would compute a cutoff of now and empty the whole log.
	if e.opts.RetentionDays <= 0 {
		return
	}
	cutoff := now.AddDate(0, 0, -e.opts.RetentionDays)

	deleted, err := e.events.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		e.logger.Error().Err(err).Msg("event retention sweep failed")
	} else if deleted > 0 {
		e.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("aged out events")
	}

	if e.observations == nil {
		return
	}
	deleted, err = e.observations.DeleteObservationsBefore(ctx, cutoff)
	if err != nil {
		e.logger.Error().Err(err).Msg("observation retention sweep failed")
	} else if deleted > 0 {
		e.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("aged out observations")
	}
}

// logError logs a per-rule failure, rate-limited per rule id so a
// persistently broken rule cannot flood the log.
func (e *Engine) logError(ruleID, class string, err error, now time.Time) {
	if !e.suppress.shouldLog(ruleID, now) {
		return
	}
	e.logger.Error().Err(err).
		Str("rule_id", ruleID).
		Str("error_class", class).
		Msg("rule evaluation failed")
}
