package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"token-watch/internal/rule"
)

// Hub receives emitted events after the persist+log commit. Delivery is
// best-effort; a failed dispatch never rolls back the transition. The
// channels slice is the rule's routing config; empty means all channels.
type Hub interface {
	Notify(ctx context.Context, ownerID string, channels []string, ev rule.Event) error
}

// Channel is one delivery transport, addressable by name from a rule's
// channels config.
type Channel interface {
	Name() string
	Notify(ctx context.Context, ownerID string, ev rule.Event) error
}

// Fanout routes each event to the channels the rule asked for, swallowing
// per-channel failures so one broken transport cannot starve the others.
type Fanout struct {
	channels []Channel
	logger   zerolog.Logger
}

// NewFanout builds a fan-out hub over the given channels.
func NewFanout(logger zerolog.Logger, channels ...Channel) *Fanout {
	return &Fanout{
		channels: channels,
		logger:   logger.With().Str("component", "dispatch").Logger(),
	}
}

// Notify delivers to the selected channels. Always returns nil; failures
// are logged.
func (f *Fanout) Notify(ctx context.Context, ownerID string, channels []string, ev rule.Event) error {
	for _, ch := range f.channels {
		if !wantsChannel(channels, ch.Name()) {
			continue
		}
		f.deliver(ctx, ch, ownerID, ev)
	}
	return nil
}

func wantsChannel(selected []string, name string) bool {
	if len(selected) == 0 {
		return true
	}
	for _, s := range selected {
		if s == name {
			return true
		}
	}
	return false
}

func (f *Fanout) deliver(ctx context.Context, ch Channel, ownerID string, ev rule.Event) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().Interface("panic", r).Str("event_id", ev.EventID).Str("channel", ch.Name()).Msg("dispatch channel panicked")
		}
	}()
	if err := ch.Notify(ctx, ownerID, ev); err != nil {
		f.logger.Warn().Err(err).
			Str("event_id", ev.EventID).
			Str("owner_id", ownerID).
			Str("channel", ch.Name()).
			Str("type", ev.Type).
			Msg("dispatch delivery failed")
	}
}

var _ Hub = (*Fanout)(nil)
