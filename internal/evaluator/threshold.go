package evaluator

import (
	"time"

	"token-watch/internal/rule"
)

// evaluateThreshold runs the simple trigger machine: compare the current
// observation against the previously stored one, count fired triggers, and
// fire when the count reaches the configured need.
func evaluateThreshold(r rule.Rule, st rule.ThresholdState, snap rule.Snapshot, now time.Time) Result {
	// Cold start: remember the observation, emit nothing.
	if st.Prev == nil {
		st.Prev = &snap
		return Result{Patch: rule.Patch{Payload: &st}}
	}

	prev := *st.Prev
	fired := make([]string, 0, len(st.Triggers))
	for _, trig := range st.Triggers {
		switch trig.Metric {
		case rule.MetricPrice:
			move := changePct(prev.Price, snap.Price).Abs()
			if move.GreaterThanOrEqual(trig.MinChangePct) {
				fired = append(fired, trig.Metric)
			}
		case rule.MetricVolume:
			inc := changePct(prev.Volume, snap.Volume)
			if inc.GreaterThanOrEqual(trig.MinChangePct) {
				fired = append(fired, trig.Metric)
			}
		}
	}

	need := st.Need
	if need <= 0 {
		need = 1
	}

	st.Prev = &snap

	if len(fired) < need {
		return Result{Patch: rule.Patch{Payload: &st}}
	}

	st.StageCount++
	eventType := rule.EventThresholdFired
	if st.MaxStage > 0 && st.StageCount > st.MaxStage {
		eventType = rule.EventThresholdReset
		st.StageCount = 0
	}

	cooldown := now.Add(time.Duration(st.CooldownSeconds) * time.Second)
	detail := rule.ThresholdDetail{
		FiredTriggers: fired,
		Need:          need,
		StageCount:    st.StageCount,
	}
	ev := rule.NewEvent(r, eventType, now, detail)

	return Result{
		Patch: rule.Patch{
			Payload:       &st,
			CooldownUntil: &cooldown,
		},
		Event: &ev,
	}
}
