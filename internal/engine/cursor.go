package engine

import (
	"context"
	"time"

	"token-watch/internal/rule"
	"token-watch/internal/storage"
)

// Cursor pages through the event log for polling consumers. The position
// is the (occurred_at, event_id) tuple of the last handled event; events
// emitted in the same tick share a timestamp, so a bare timestamp would
// drop the tail of a group split across batches. The position commits
// only after the handler succeeds for the whole batch, so a crash between
// fetch and commit results in re-delivery, never silent loss. Consumers
// deduplicate on event id.
type Cursor struct {
	log         storage.EventLog
	watermark   time.Time
	lastEventID string
	batch       int
}

// NewCursor starts a cursor at the given watermark.
func NewCursor(log storage.EventLog, start time.Time, batch int) *Cursor {
	if batch <= 0 {
		batch = 100
	}
	return &Cursor{log: log, watermark: start, batch: batch}
}

// Watermark returns the timestamp of the last committed position.
func (c *Cursor) Watermark() time.Time {
	return c.watermark
}

// Poll fetches the next batch of events and hands each to the handler in
// ascending (occurred_at, event_id) order. Returns the number of events
// processed. On handler error the position stays put and the batch will
// be re-delivered.
func (c *Cursor) Poll(ctx context.Context, handler func(rule.Event) error) (int, error) {
	events, err := c.log.ListEventsAfter(ctx, c.watermark, c.lastEventID, c.batch)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	for _, ev := range events {
		if err := handler(ev); err != nil {
			return 0, err
		}
	}

	last := events[len(events)-1]
	c.watermark = last.OccurredAt
	c.lastEventID = last.EventID
	return len(events), nil
}
