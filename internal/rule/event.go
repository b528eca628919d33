package rule

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Emitted event types.
const (
	EventThresholdFired = "threshold_fired"
	EventThresholdReset = "threshold_reset"
	EventConfirmed      = "confirmed"
	EventProgress       = "progress"
	EventExpired        = "expired"
	EventSessionStage   = "session_stage"
	EventSessionEnded   = "session_ended"
)

// Event records one lifecycle transition. Append-only; EventID is the
// consumer-side deduplication key. Stage and Status are a denormalized
// snapshot of the rule at emission time.
type Event struct {
	EventID    string
	Type       string
	OccurredAt time.Time
	RuleID     string
	OwnerID    string
	Subject    Subject
	Stage      Stage
	Status     Status
	Detail     json.RawMessage
	CreatedAt  time.Time
}

var eventNamespace = uuid.MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")

// NewEventID derives the event id from the transition itself, so a retried
// tick re-derives the identical id and the append stays idempotent.
func NewEventID(ruleID, eventType string, occurredAt time.Time) string {
	seed := fmt.Sprintf("%s|%s|%d", ruleID, eventType, occurredAt.UnixNano())
	return uuid.NewSHA1(eventNamespace, []byte(seed)).String()
}

// ThresholdDetail explains a threshold firing.
type ThresholdDetail struct {
	FiredTriggers []string `json:"fired_triggers"`
	Need          int      `json:"need"`
	StageCount    int      `json:"stage_count"`
}

// ConfirmationDetail explains a confirmation transition.
type ConfirmationDetail struct {
	Template       string      `json:"template"`
	Need           int         `json:"need"`
	TriggeredCount int         `json:"triggered_count"`
	Indicators     []Indicator `json:"indicators"`
}

// SessionDetail explains a session stage transition or ending.
type SessionDetail struct {
	Stage     SessionStage `json:"stage"`
	EndReason string       `json:"end_reason,omitempty"`
	Met       []string     `json:"met,omitempty"`
}

func mustDetail(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("marshal event detail: " + err.Error())
	}
	return data
}

// NewEvent builds an event for a transition on the given rule, stamping the
// denormalized rule snapshot fields.
func NewEvent(r Rule, eventType string, now time.Time, detail any) Event {
	return Event{
		EventID:    NewEventID(r.ID, eventType, now),
		Type:       eventType,
		OccurredAt: now,
		RuleID:     r.ID,
		OwnerID:    r.OwnerID,
		Subject:    r.Subject,
		Stage:      r.Stage,
		Status:     r.Status,
		Detail:     mustDetail(detail),
	}
}
