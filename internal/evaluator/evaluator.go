package evaluator

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"token-watch/internal/rule"
)

// ErrBadPayload marks a rule whose stored payload does not match its kind.
// Retrying will not help until the rule is edited.
var ErrBadPayload = errors.New("evaluator: payload does not match rule kind")

// Result is the outcome of evaluating one rule against one observation.
// The patch lists only the fields that changed; Event is nil when no
// transition occurred. At most one event per evaluation.
type Result struct {
	Patch rule.Patch
	Event *rule.Event
}

// Defaults carry configured fallbacks for values a rule payload may leave
// unset. Zero values fall back to the built-in constants.
type Defaults struct {
	ConfirmationNeed     int
	ConfirmationCooldown time.Duration
}

// Evaluate dispatches to the state machine for the rule's kind. Pure: no
// I/O, and the same inputs always produce the same output. This switch is
// the single place to extend when a new rule kind is added.
func Evaluate(r rule.Rule, snap rule.Snapshot, now time.Time, defs Defaults) (Result, error) {
	switch r.Kind {
	case rule.KindThreshold:
		st, ok := r.Payload.(*rule.ThresholdState)
		if !ok {
			return Result{}, fmt.Errorf("%w: rule %s kind %s", ErrBadPayload, r.ID, r.Kind)
		}
		return evaluateThreshold(r, *st, snap, now), nil
	case rule.KindConfirmation:
		st, ok := r.Payload.(*rule.ConfirmationState)
		if !ok {
			return Result{}, fmt.Errorf("%w: rule %s kind %s", ErrBadPayload, r.ID, r.Kind)
		}
		return evaluateConfirmation(r, *st, snap, now, defs), nil
	case rule.KindSession:
		st, ok := r.Payload.(*rule.SessionState)
		if !ok {
			return Result{}, fmt.Errorf("%w: rule %s kind %s", ErrBadPayload, r.ID, r.Kind)
		}
		return evaluateSession(r, *st, snap, now), nil
	default:
		return Result{}, fmt.Errorf("evaluator: unknown rule kind %q for rule %s", r.Kind, r.ID)
	}
}

var (
	decOne     = decimal.NewFromInt(1)
	decHundred = decimal.NewFromInt(100)
)

// changePct computes the percentage change from prev to curr. A zero
// denominator is substituted with 1 so the result stays finite.
func changePct(prev, curr decimal.Decimal) decimal.Decimal {
	denom := prev
	if denom.IsZero() {
		denom = decOne
	}
	return curr.Sub(prev).Div(denom).Mul(decHundred)
}

func ptrTo[T any](v T) *T { return &v }
