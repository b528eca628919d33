package evaluator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-watch/internal/rule"
)

func thresholdRule(st *rule.ThresholdState) rule.Rule {
	return rule.Rule{
		ID:      "thr-1",
		OwnerID: "owner-1",
		Kind:    rule.KindThreshold,
		Subject: rule.Subject{Token: "PEPE", Timeframe: "5m"},
		Enabled: true,
		Stage:   rule.StageWatching,
		Status:  rule.StatusActive,
		Payload: st,
	}
}

func snap(price, volume int64) rule.Snapshot {
	return rule.Snapshot{
		Timestamp: time.Now().UTC(),
		Price:     decimal.NewFromInt(price),
		Volume:    decimal.NewFromInt(volume),
	}
}

func TestThresholdColdStartStoresSnapshotWithoutEvent(t *testing.T) {
	r := thresholdRule(&rule.ThresholdState{
		Triggers: []rule.TriggerSpec{{Metric: rule.MetricPrice, MinChangePct: decimal.NewFromInt(5)}},
		Need:     1,
	})
	now := time.Now().UTC()

	res, err := Evaluate(r, snap(100, 1000), now, Defaults{})
	require.NoError(t, err)

	assert.Nil(t, res.Event)
	st, ok := res.Patch.Payload.(*rule.ThresholdState)
	require.True(t, ok)
	require.NotNil(t, st.Prev)
	assert.True(t, st.Prev.Price.Equal(decimal.NewFromInt(100)))
	assert.Nil(t, res.Patch.CooldownUntil)
}

func TestThresholdFiresAndArmsCooldown(t *testing.T) {
	prev := snap(100, 1000)
	r := thresholdRule(&rule.ThresholdState{
		Prev:            &prev,
		Triggers:        []rule.TriggerSpec{{Metric: rule.MetricPrice, MinChangePct: decimal.NewFromInt(5)}},
		Need:            1,
		MaxStage:        3,
		CooldownSeconds: 300,
	})
	now := time.Now().UTC()

	res, err := Evaluate(r, snap(110, 1000), now, Defaults{})
	require.NoError(t, err)

	require.NotNil(t, res.Event)
	assert.Equal(t, rule.EventThresholdFired, res.Event.Type)
	require.NotNil(t, res.Patch.CooldownUntil)
	assert.Equal(t, now.Add(300*time.Second), *res.Patch.CooldownUntil)

	st := res.Patch.Payload.(*rule.ThresholdState)
	assert.Equal(t, 1, st.StageCount)
}

func TestThresholdDownMoveCountsForPrice(t *testing.T) {
	prev := snap(100, 1000)
	r := thresholdRule(&rule.ThresholdState{
		Prev:     &prev,
		Triggers: []rule.TriggerSpec{{Metric: rule.MetricPrice, MinChangePct: decimal.NewFromInt(5)}},
		Need:     1,
	})

	res, err := Evaluate(r, snap(90, 1000), time.Now().UTC(), Defaults{})
	require.NoError(t, err)
	require.NotNil(t, res.Event)
	assert.Equal(t, rule.EventThresholdFired, res.Event.Type)
}

func TestThresholdZeroVolumeDenominatorIsGuarded(t *testing.T) {
	prev := snap(100, 0)
	r := thresholdRule(&rule.ThresholdState{
		Prev:     &prev,
		Triggers: []rule.TriggerSpec{{Metric: rule.MetricVolume, MinChangePct: decimal.NewFromInt(50)}},
		Need:     1,
	})

	// prev.volume=0, curr.volume=500: change is computed against a
	// denominator of 1, yielding a finite 50000%.
	res, err := Evaluate(r, snap(100, 500), time.Now().UTC(), Defaults{})
	require.NoError(t, err)
	require.NotNil(t, res.Event)
	assert.Equal(t, rule.EventThresholdFired, res.Event.Type)
}

func TestThresholdBelowNeedPersistsPrevOnly(t *testing.T) {
	prev := snap(100, 1000)
	r := thresholdRule(&rule.ThresholdState{
		Prev: &prev,
		Triggers: []rule.TriggerSpec{
			{Metric: rule.MetricPrice, MinChangePct: decimal.NewFromInt(5)},
			{Metric: rule.MetricVolume, MinChangePct: decimal.NewFromInt(50)},
		},
		Need: 2,
	})

	res, err := Evaluate(r, snap(110, 1000), time.Now().UTC(), Defaults{})
	require.NoError(t, err)

	assert.Nil(t, res.Event)
	st := res.Patch.Payload.(*rule.ThresholdState)
	assert.True(t, st.Prev.Price.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, 0, st.StageCount)
}

func TestThresholdStagePastMaxResetsCounter(t *testing.T) {
	prev := snap(100, 1000)
	r := thresholdRule(&rule.ThresholdState{
		Prev:            &prev,
		Triggers:        []rule.TriggerSpec{{Metric: rule.MetricPrice, MinChangePct: decimal.NewFromInt(5)}},
		Need:            1,
		StageCount:      3,
		MaxStage:        3,
		CooldownSeconds: 60,
	})

	res, err := Evaluate(r, snap(110, 1000), time.Now().UTC(), Defaults{})
	require.NoError(t, err)

	require.NotNil(t, res.Event)
	assert.Equal(t, rule.EventThresholdReset, res.Event.Type)
	st := res.Patch.Payload.(*rule.ThresholdState)
	assert.Equal(t, 0, st.StageCount)
}

func TestEvaluatePayloadKindMismatch(t *testing.T) {
	r := thresholdRule(nil)
	r.Payload = &rule.SessionState{}

	_, err := Evaluate(r, snap(100, 1000), time.Now().UTC(), Defaults{})
	require.ErrorIs(t, err, ErrBadPayload)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	prev := snap(100, 1000)
	build := func() rule.Rule {
		p := prev
		return thresholdRule(&rule.ThresholdState{
			Prev:            &p,
			Triggers:        []rule.TriggerSpec{{Metric: rule.MetricPrice, MinChangePct: decimal.NewFromInt(5)}},
			Need:            1,
			CooldownSeconds: 60,
		})
	}
	now := time.Now().UTC()
	current := snap(110, 1000)

	first, err := Evaluate(build(), current, now, Defaults{})
	require.NoError(t, err)
	second, err := Evaluate(build(), current, now, Defaults{})
	require.NoError(t, err)

	require.NotNil(t, first.Event)
	require.NotNil(t, second.Event)
	assert.Equal(t, first.Event.EventID, second.Event.EventID)
	assert.Equal(t, *first.Patch.CooldownUntil, *second.Patch.CooldownUntil)
}
