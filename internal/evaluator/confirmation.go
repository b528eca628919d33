package evaluator

import (
	"time"

	"github.com/shopspring/decimal"

	"token-watch/internal/rule"
)

// evaluateConfirmation runs the one-shot N-of-M indicator machine. Only a
// WATCHING rule does any work; the scheduler already excludes others, this
// guard makes the overlap harmless.
func evaluateConfirmation(r rule.Rule, st rule.ConfirmationState, snap rule.Snapshot, now time.Time, defs Defaults) Result {
	if r.Stage != rule.StageWatching {
		return Result{}
	}

	// Expiry beats everything, including indicators that happen to be
	// satisfied on the same tick.
	if r.ExpiresAt != nil && !now.Before(*r.ExpiresAt) {
		r.Stage = rule.StageExpired
		r.Status = rule.StatusPaused
		detail := rule.ConfirmationDetail{
			Template:       st.Template,
			Need:           st.Need,
			TriggeredCount: st.TriggeredCount,
			Indicators:     st.Indicators,
		}
		ev := rule.NewEvent(r, rule.EventExpired, now, detail)
		return Result{
			Patch: rule.Patch{
				Enabled: ptrTo(false),
				Stage:   ptrTo(rule.StageExpired),
				Status:  ptrTo(rule.StatusPaused),
			},
			Event: &ev,
		}
	}

	indicators := make([]rule.Indicator, len(st.Indicators))
	copy(indicators, st.Indicators)

	count := 0
	for i := range indicators {
		value := indicatorValue(snap, indicators[i].Metric)
		indicators[i].Value = &value
		indicators[i].Triggered = value.GreaterThanOrEqual(indicators[i].Threshold)
		if indicators[i].Triggered {
			observed := now
			indicators[i].ObservedAt = &observed
			count++
		}
	}
	st.Indicators = indicators

	// Payload wins; the configured default covers rules created before the
	// template seeded these fields.
	need := st.Need
	if need <= 0 {
		need = defs.ConfirmationNeed
	}
	if need <= 0 {
		need = 2
	}

	if count >= need {
		st.TriggeredCount = count
		r.Stage = rule.StageConfirmed
		r.Status = rule.StatusTriggered
		cooldownFor := time.Duration(st.CooldownMinutes) * time.Minute
		if cooldownFor <= 0 {
			cooldownFor = defs.ConfirmationCooldown
		}
		cooldown := now.Add(cooldownFor)
		detail := rule.ConfirmationDetail{
			Template:       st.Template,
			Need:           need,
			TriggeredCount: count,
			Indicators:     indicators,
		}
		ev := rule.NewEvent(r, rule.EventConfirmed, now, detail)
		return Result{
			Patch: rule.Patch{
				Stage:         ptrTo(rule.StageConfirmed),
				Status:        ptrTo(rule.StatusTriggered),
				Payload:       &st,
				CooldownUntil: &cooldown,
			},
			Event: &ev,
		}
	}

	if count != st.TriggeredCount {
		st.TriggeredCount = count
		detail := rule.ConfirmationDetail{
			Template:       st.Template,
			Need:           need,
			TriggeredCount: count,
			Indicators:     indicators,
		}
		ev := rule.NewEvent(r, rule.EventProgress, now, detail)
		return Result{
			Patch: rule.Patch{Payload: &st},
			Event: &ev,
		}
	}

	return Result{}
}

func indicatorValue(snap rule.Snapshot, metric string) decimal.Decimal {
	switch metric {
	case rule.IndicatorVolume:
		return snap.Volume
	case rule.IndicatorTradeCount:
		return decimal.NewFromInt(snap.TradeCount)
	case rule.IndicatorHolderDelta30m:
		return decimal.NewFromInt(snap.HolderDelta30m)
	case rule.IndicatorHolderDelta6h:
		return decimal.NewFromInt(snap.HolderDelta6h)
	case rule.IndicatorPrice:
		return snap.Price
	default:
		return decimal.Zero
	}
}
