package rule

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTripKeepsKind(t *testing.T) {
	window := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	st := &SessionState{
		Stage: SessionAwakening,
		Config: SessionConfig{
			DeadVolumeMax:  decimal.NewFromInt(1000),
			WakeVolumeMult: decimal.NewFromInt(5),
		},
		BaselineVolume: decimal.NewFromInt(120),
		BaselineTrades: 4,
		HasBaseline:    true,
		WindowEndsAt:   &window,
	}

	data, err := MarshalPayload(st)
	require.NoError(t, err)

	decoded, err := UnmarshalPayload(data)
	require.NoError(t, err)

	got, ok := decoded.(*SessionState)
	require.True(t, ok)
	assert.Equal(t, SessionAwakening, got.Stage)
	assert.True(t, got.BaselineVolume.Equal(decimal.NewFromInt(120)))
	require.NotNil(t, got.WindowEndsAt)
	assert.True(t, got.WindowEndsAt.Equal(window))
}

func TestUnmarshalPayloadUnknownKind(t *testing.T) {
	_, err := UnmarshalPayload([]byte(`{"kind":"mystery","state":{}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestNewEventIDIsDeterministic(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	first := NewEventID("rule-1", EventConfirmed, now)
	second := NewEventID("rule-1", EventConfirmed, now)
	assert.Equal(t, first, second)

	other := NewEventID("rule-1", EventConfirmed, now.Add(time.Second))
	assert.NotEqual(t, first, other)

	otherRule := NewEventID("rule-2", EventConfirmed, now)
	assert.NotEqual(t, first, otherRule)
}

func TestLookupTemplate(t *testing.T) {
	tpl, err := LookupTemplate("breakout")
	require.NoError(t, err)
	assert.Equal(t, 2, tpl.Need)
	assert.Len(t, tpl.Indicators, 3)

	_, err = LookupTemplate("nope")
	require.Error(t, err)
}

func TestNewConfirmationStateAppliesOverride(t *testing.T) {
	tpl, err := LookupTemplate("breakout")
	require.NoError(t, err)

	st := NewConfirmationState(tpl, 3, 45)
	assert.Equal(t, 3, st.Need)
	assert.Equal(t, 45, st.CooldownMinutes)
	assert.Len(t, st.Indicators, 3)
	for _, ind := range st.Indicators {
		assert.False(t, ind.Triggered)
	}
}
