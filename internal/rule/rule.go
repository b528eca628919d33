package rule

import (
	"time"
)

// Kind discriminates the payload shape and which evaluator applies.
type Kind string

const (
	KindThreshold    Kind = "threshold"
	KindConfirmation Kind = "confirmation"
	KindSession      Kind = "session"
)

// Stage is the coarse rule lifecycle.
type Stage string

const (
	StageInitial   Stage = "INITIAL"
	StageWatching  Stage = "WATCHING"
	StageConfirmed Stage = "CONFIRMED"
	StageExpired   Stage = "EXPIRED"
	StageCancelled Stage = "CANCELLED"
)

// Status is the user-facing projection of Stage.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusTriggered Status = "triggered"
)

// Subject identifies what a rule watches. Opaque to the engine; passed
// through to observation fetch and event payloads.
type Subject struct {
	Token     string `json:"token"`
	Timeframe string `json:"timeframe"`
}

func (s Subject) String() string {
	if s.Timeframe == "" {
		return s.Token
	}
	return s.Token + "@" + s.Timeframe
}

// Rule is a user-defined alert configuration plus its current evaluation
// state. One row per rule; the payload is the canonical working memory of
// the state machine.
type Rule struct {
	ID            string
	OwnerID       string
	Kind          Kind
	Subject       Subject
	Enabled       bool
	Stage         Stage
	Status        Status
	Channels      []string
	Payload       Payload
	CooldownUntil *time.Time
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Patch carries the fields an evaluator changed. Nil fields are left
// untouched by the store; the update is a merge, never a full replace.
// A CooldownUntil pointing at the zero time clears the cooldown.
type Patch struct {
	Enabled       *bool
	Stage         *Stage
	Status        *Status
	Payload       Payload
	CooldownUntil *time.Time
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Enabled == nil && p.Stage == nil && p.Status == nil &&
		p.Payload == nil && p.CooldownUntil == nil
}
