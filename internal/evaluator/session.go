package evaluator

import (
	"time"

	"github.com/shopspring/decimal"

	"token-watch/internal/rule"
)

// evaluateSession runs the five-stage dead-token awakening machine.
//
// Stage order: INITIAL -> AWAKENING -> SUSTAINED -> SECOND_SURGE ->
// SESSION_ENDED, with a silent SESSION_ENDED -> INITIAL reset once the
// cooldown elapses. A transition into SESSION_ENDED carries the terminal
// handling (cooldown, outer stage, single session_ended event) so no tick
// emits more than one event and each session ends exactly once.
func evaluateSession(r rule.Rule, st rule.SessionState, snap rule.Snapshot, now time.Time) Result {
	if !r.Enabled {
		return Result{}
	}

	if st.Stage == rule.SessionEnded {
		if st.CooldownEndsAt != nil && !now.Before(*st.CooldownEndsAt) {
			// Re-arm: clean payload, no event for the silent reset.
			fresh := rule.SessionState{Stage: rule.SessionInitial, Config: st.Config}
			return Result{Patch: rule.Patch{
				Stage:         ptrTo(rule.StageInitial),
				Status:        ptrTo(rule.StatusActive),
				Payload:       &fresh,
				CooldownUntil: ptrTo(time.Time{}),
			}}
		}
		return Result{}
	}

	if st.CooldownEndsAt != nil && now.Before(*st.CooldownEndsAt) {
		return Result{}
	}

	// Hard wall-clock cap on the whole session.
	if st.SessionEndsAt != nil && !now.Before(*st.SessionEndsAt) {
		return endSession(r, st, now, rule.EndReasonTimeout)
	}

	switch st.Stage {
	case rule.SessionInitial, "":
		return sessionInitial(r, st, snap, now)
	case rule.SessionAwakening:
		if st.WindowEndsAt != nil && !now.Before(*st.WindowEndsAt) {
			return endSession(r, st, now, rule.EndReasonWindowExpired)
		}
		met := wakeConditions(st, snap)
		if len(met) < 2 {
			return Result{}
		}
		st.Stage = rule.SessionSustained
		window := now.Add(time.Duration(st.Config.SustainedWindowHours) * time.Hour)
		st.WindowEndsAt = &window
		ev := rule.NewEvent(r, rule.EventSessionStage, now, rule.SessionDetail{Stage: st.Stage, Met: met})
		return Result{Patch: rule.Patch{Payload: &st}, Event: &ev}
	case rule.SessionSustained:
		if st.WindowEndsAt != nil && !now.Before(*st.WindowEndsAt) {
			return endSession(r, st, now, rule.EndReasonWindowExpired)
		}
		met := surgeConditions(st, snap)
		if len(met) < 2 {
			return Result{}
		}
		// The session succeeding is the rule's confirmation.
		st.Stage = rule.SessionSecondSurge
		r.Stage = rule.StageConfirmed
		r.Status = rule.StatusTriggered
		ev := rule.NewEvent(r, rule.EventSessionStage, now, rule.SessionDetail{Stage: st.Stage, Met: met})
		return Result{Patch: rule.Patch{
			Stage:   ptrTo(rule.StageConfirmed),
			Status:  ptrTo(rule.StatusTriggered),
			Payload: &st,
		}, Event: &ev}
	case rule.SessionSecondSurge:
		// One-tick terminal signal, never a steady state.
		return endSession(r, st, now, rule.EndReasonCompleted)
	default:
		return Result{}
	}
}

func sessionInitial(r rule.Rule, st rule.SessionState, snap rule.Snapshot, now time.Time) Result {
	dead := snap.Volume.LessThanOrEqual(st.Config.DeadVolumeMax) &&
		snap.TradeCount <= st.Config.DeadTradeMax &&
		snap.HolderDelta6h <= st.Config.DeadHolderDelta6hMax
	if !dead {
		return Result{}
	}

	if !st.HasBaseline {
		st.BaselineVolume = snap.Volume
		st.BaselineTrades = snap.TradeCount
		st.HasBaseline = true
		return Result{Patch: rule.Patch{Payload: &st}}
	}

	met := wakeConditions(st, snap)
	if len(met) < 2 {
		// Still dead: roll the baseline forward.
		st.BaselineVolume = snap.Volume
		st.BaselineTrades = snap.TradeCount
		return Result{Patch: rule.Patch{Payload: &st}}
	}

	st.Stage = rule.SessionAwakening
	st.SessionStart = &now
	sessionEnd := now.Add(rule.SessionCap)
	st.SessionEndsAt = &sessionEnd
	window := now.Add(time.Duration(st.Config.AwakeningWindowMinutes) * time.Minute)
	st.WindowEndsAt = &window
	ev := rule.NewEvent(r, rule.EventSessionStage, now, rule.SessionDetail{Stage: st.Stage, Met: met})
	return Result{Patch: rule.Patch{Payload: &st}, Event: &ev}
}

func endSession(r rule.Rule, st rule.SessionState, now time.Time, reason string) Result {
	st.Stage = rule.SessionEnded
	st.EndReason = reason
	if st.CooldownEndsAt == nil {
		cd := now.Add(time.Duration(st.Config.CooldownMinutes) * time.Minute)
		st.CooldownEndsAt = &cd
	}

	patch := rule.Patch{
		Payload:       &st,
		CooldownUntil: st.CooldownEndsAt,
	}
	if reason == rule.EndReasonCompleted {
		r.Stage = rule.StageConfirmed
		r.Status = rule.StatusTriggered
	} else {
		r.Stage = rule.StageExpired
		r.Status = rule.StatusPaused
	}
	patch.Stage = ptrTo(r.Stage)
	patch.Status = ptrTo(r.Status)

	ev := rule.NewEvent(r, rule.EventSessionEnded, now, rule.SessionDetail{Stage: st.Stage, EndReason: reason})
	return Result{Patch: patch, Event: &ev}
}

// wakeConditions evaluates the 2-of-3 awakening gate against the session
// baseline. A zero baseline counts as 1, matching the percentage guard.
func wakeConditions(st rule.SessionState, snap rule.Snapshot) []string {
	return conditions(st, snap, st.Config.WakeVolumeMult, st.Config.WakeTradeMult, st.Config.WakeHolderDelta30mMin)
}

// surgeConditions evaluates the distinct second-surge 2-of-3 gate.
func surgeConditions(st rule.SessionState, snap rule.Snapshot) []string {
	return conditions(st, snap, st.Config.SurgeVolumeMult, st.Config.SurgeTradeMult, st.Config.SurgeHolderDelta30mMin)
}

func conditions(st rule.SessionState, snap rule.Snapshot, volMult, tradeMult decimal.Decimal, holderMin int64) []string {
	met := make([]string, 0, 3)

	baseVol := st.BaselineVolume
	if baseVol.IsZero() {
		baseVol = decOne
	}
	if snap.Volume.GreaterThanOrEqual(baseVol.Mul(volMult)) {
		met = append(met, "volume")
	}

	baseTrades := st.BaselineTrades
	if baseTrades == 0 {
		baseTrades = 1
	}
	trades := decimal.NewFromInt(snap.TradeCount)
	if trades.GreaterThanOrEqual(decimal.NewFromInt(baseTrades).Mul(tradeMult)) {
		met = append(met, "trades")
	}

	if snap.HolderDelta30m >= holderMin {
		met = append(met, "holders")
	}

	return met
}
