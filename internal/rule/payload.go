package rule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is one observation of a subject's market signals.
type Snapshot struct {
	Timestamp      time.Time       `json:"timestamp"`
	Price          decimal.Decimal `json:"price"`
	Volume         decimal.Decimal `json:"volume"`
	TradeCount     int64           `json:"trade_count"`
	HolderCount    int64           `json:"holder_count"`
	HolderDelta30m int64           `json:"holder_delta_30m"`
	HolderDelta6h  int64           `json:"holder_delta_6h"`
}

// Payload is the kind-specific working state of a rule.
type Payload interface {
	PayloadKind() Kind
}

// Trigger metrics for threshold rules.
const (
	MetricPrice  = "price"
	MetricVolume = "volume"
)

// TriggerSpec is one configured threshold trigger. Price triggers match a
// move of at least MinChangePct in either direction; volume triggers match
// an increase of at least MinChangePct.
type TriggerSpec struct {
	Metric       string          `json:"metric"`
	MinChangePct decimal.Decimal `json:"min_change_pct"`
}

// ThresholdState backs the threshold rule kind.
type ThresholdState struct {
	Prev            *Snapshot     `json:"prev,omitempty"`
	Triggers        []TriggerSpec `json:"triggers"`
	Need            int           `json:"need"`
	StageCount      int           `json:"stage_count"`
	MaxStage        int           `json:"max_stage"`
	CooldownSeconds int           `json:"cooldown_seconds"`
}

func (ThresholdState) PayloadKind() Kind { return KindThreshold }

// Indicator is one N-of-M confirmation signal. Triggered flips when the
// observed metric reaches the threshold.
type Indicator struct {
	ID         string           `json:"id"`
	Label      string           `json:"label"`
	Metric     string           `json:"metric"`
	Threshold  decimal.Decimal  `json:"threshold"`
	Triggered  bool             `json:"triggered"`
	Value      *decimal.Decimal `json:"value,omitempty"`
	ObservedAt *time.Time       `json:"observed_at,omitempty"`
}

// ConfirmationState backs the confirmation (N-of-M indicators) rule kind.
type ConfirmationState struct {
	Template        string      `json:"template"`
	Need            int         `json:"need"`
	Indicators      []Indicator `json:"indicators"`
	TriggeredCount  int         `json:"triggered_count"`
	CooldownMinutes int         `json:"cooldown_minutes"`
}

func (ConfirmationState) PayloadKind() Kind { return KindConfirmation }

// SessionStage is the inner stage of an awakening session.
type SessionStage string

const (
	SessionInitial     SessionStage = "INITIAL"
	SessionAwakening   SessionStage = "AWAKENING"
	SessionSustained   SessionStage = "SUSTAINED"
	SessionSecondSurge SessionStage = "SECOND_SURGE"
	SessionEnded       SessionStage = "SESSION_ENDED"
)

// Session end reasons.
const (
	EndReasonTimeout       = "timeout"
	EndReasonWindowExpired = "window_expired"
	EndReasonCompleted     = "completed"
)

// SessionCap is the hard wall-clock limit on one awakening session.
const SessionCap = 12 * time.Hour

// SessionConfig holds the per-rule thresholds of the awakening machine.
type SessionConfig struct {
	DeadVolumeMax        decimal.Decimal `json:"dead_volume_max"`
	DeadTradeMax         int64           `json:"dead_trade_max"`
	DeadHolderDelta6hMax int64           `json:"dead_holder_delta_6h_max"`

	WakeVolumeMult        decimal.Decimal `json:"wake_volume_mult"`
	WakeTradeMult         decimal.Decimal `json:"wake_trade_mult"`
	WakeHolderDelta30mMin int64           `json:"wake_holder_delta_30m_min"`

	SurgeVolumeMult        decimal.Decimal `json:"surge_volume_mult"`
	SurgeTradeMult         decimal.Decimal `json:"surge_trade_mult"`
	SurgeHolderDelta30mMin int64           `json:"surge_holder_delta_30m_min"`

	AwakeningWindowMinutes int `json:"awakening_window_minutes"`
	SustainedWindowHours   int `json:"sustained_window_hours"`
	CooldownMinutes        int `json:"cooldown_minutes"`
}

// SessionState backs the session (dead-token awakening) rule kind.
type SessionState struct {
	Stage          SessionStage    `json:"stage"`
	Config         SessionConfig   `json:"config"`
	BaselineVolume decimal.Decimal `json:"baseline_volume"`
	BaselineTrades int64           `json:"baseline_trades"`
	HasBaseline    bool            `json:"has_baseline"`
	SessionStart   *time.Time      `json:"session_start,omitempty"`
	SessionEndsAt  *time.Time      `json:"session_ends_at,omitempty"`
	WindowEndsAt   *time.Time      `json:"window_ends_at,omitempty"`
	CooldownEndsAt *time.Time      `json:"cooldown_ends_at,omitempty"`
	EndReason      string          `json:"end_reason,omitempty"`
}

func (SessionState) PayloadKind() Kind { return KindSession }

type payloadEnvelope struct {
	Kind  Kind            `json:"kind"`
	State json.RawMessage `json:"state"`
}

// MarshalPayload serialises a payload with its kind tag.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("marshal payload: nil payload")
	}
	state, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload state: %w", err)
	}
	return json.Marshal(payloadEnvelope{Kind: p.PayloadKind(), State: state})
}

// UnmarshalPayload decodes a tagged payload. Unknown kinds are an error so
// a corrupt row surfaces instead of silently no-oping.
func UnmarshalPayload(data []byte) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}

	switch env.Kind {
	case KindThreshold:
		var st ThresholdState
		if err := json.Unmarshal(env.State, &st); err != nil {
			return nil, fmt.Errorf("decode threshold state: %w", err)
		}
		return &st, nil
	case KindConfirmation:
		var st ConfirmationState
		if err := json.Unmarshal(env.State, &st); err != nil {
			return nil, fmt.Errorf("decode confirmation state: %w", err)
		}
		return &st, nil
	case KindSession:
		var st SessionState
		if err := json.Unmarshal(env.State, &st); err != nil {
			return nil, fmt.Errorf("decode session state: %w", err)
		}
		return &st, nil
	default:
		return nil, fmt.Errorf("decode payload: unknown kind %q", env.Kind)
	}
}
