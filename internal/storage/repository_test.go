package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-watch/internal/rule"
)

// stubRow feeds canned column values through the pgx.Row contract.
type stubRow struct {
	vals []any
}

func (s stubRow) Scan(dest ...any) error {
	for i, d := range dest {
		if s.vals[i] == nil {
			continue
		}
		switch ptr := d.(type) {
		case *string:
			*ptr = s.vals[i].(string)
		case *bool:
			*ptr = s.vals[i].(bool)
		case *[]string:
			*ptr = s.vals[i].([]string)
		case *[]byte:
			*ptr = s.vals[i].([]byte)
		case **time.Time:
			v := s.vals[i].(time.Time)
			*ptr = &v
		case *time.Time:
			*ptr = s.vals[i].(time.Time)
		}
	}
	return nil
}

func ruleRowVals(payload []byte) []any {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []any{
		"r1", "owner-1", "threshold", "PEPE", "5m", true,
		"WATCHING", "active", []string{"telegram"}, payload,
		nil, nil, now, now,
	}
}

func TestScanRuleDecodesPayload(t *testing.T) {
	payload, err := rule.MarshalPayload(&rule.ThresholdState{Need: 1})
	require.NoError(t, err)

	r, err := scanRule(stubRow{vals: ruleRowVals(payload)})
	require.NoError(t, err)
	assert.Equal(t, rule.KindThreshold, r.Kind)
	assert.Equal(t, []string{"telegram"}, r.Channels)
	require.IsType(t, &rule.ThresholdState{}, r.Payload)
}

func TestScanRuleCorruptPayload(t *testing.T) {
	// An unknown kind marks the row corrupt; batch queries skip it rather
	// than failing every other rule in the batch.
	_, err := scanRule(stubRow{vals: ruleRowVals([]byte(`{"kind":"mystery","state":{}}`))})
	assert.ErrorIs(t, err, ErrCorruptPayload)

	_, err = scanRule(stubRow{vals: ruleRowVals([]byte(`not json`))})
	assert.ErrorIs(t, err, ErrCorruptPayload)
}
