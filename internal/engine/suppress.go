package engine

import (
	"sync"
	"time"
)

// suppressor rate-limits error logging per rule id. Owned by the engine
// instance, never shared across instances. Purely an observability
// concern: suppression never affects evaluation.
type suppressor struct {
	mu       sync.Mutex
	lastSeen map[string]time.Time
	window   time.Duration
}

func newSuppressor(window time.Duration) *suppressor {
	return &suppressor{
		lastSeen: make(map[string]time.Time),
		window:   window,
	}
}

// shouldLog reports whether an error for the rule should be logged now,
// and records the decision.
func (s *suppressor) shouldLog(ruleID string, now time.Time) bool {
	if s.window <= 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	last, seen := s.lastSeen[ruleID]
	if seen && now.Sub(last) < s.window {
		return false
	}
	s.lastSeen[ruleID] = now
	return true
}
