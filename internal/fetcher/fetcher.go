package fetcher

import (
	"context"

	"token-watch/internal/rule"
)

// ObservationFetcher retrieves the current market snapshot for a subject.
// Failures are transient for the rule being evaluated; the engine retries
// on the next tick.
type ObservationFetcher interface {
	FetchSnapshot(ctx context.Context, subject rule.Subject) (rule.Snapshot, error)
}
