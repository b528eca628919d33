package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"token-watch/internal/rule"
)

// MemoryStore is an in-memory implementation of the storage contracts,
// used by tests and the simulate command.
type MemoryStore struct {
	mu           sync.Mutex
	rules        map[string]rule.Rule
	events       []rule.Event
	eventIDs     map[string]struct{}
	observations map[string][]ObservationRecord
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:        make(map[string]rule.Rule),
		eventIDs:     make(map[string]struct{}),
		observations: make(map[string][]ObservationRecord),
	}
}

// CreateRule inserts a rule.
func (m *MemoryStore) CreateRule(_ context.Context, r rule.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.UpdatedAt = r.CreatedAt
	m.rules[r.ID] = r
	return nil
}

// GetRule fetches a rule by id.
func (m *MemoryStore) GetRule(_ context.Context, id string) (rule.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return rule.Rule{}, ErrRuleNotFound
	}
	return r, nil
}

// ListRules lists rules, newest first.
func (m *MemoryStore) ListRules(_ context.Context, limit int) ([]rule.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rules := make([]rule.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].CreatedAt.After(rules[j].CreatedAt) })
	if limit > 0 && len(rules) > limit {
		rules = rules[:limit]
	}
	return rules, nil
}

// ListDueRules mirrors the SQL due-rule filter.
func (m *MemoryStore) ListDueRules(_ context.Context, now time.Time, limit int) ([]rule.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	due := make([]rule.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		if !r.Enabled {
			continue
		}
		cooling := r.CooldownUntil != nil && now.Before(*r.CooldownUntil)
		if cooling && r.Kind != rule.KindSession {
			continue
		}
		if r.Kind == rule.KindConfirmation && r.Stage != rule.StageWatching {
			continue
		}
		due = append(due, r)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].UpdatedAt.Before(due[j].UpdatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// UpdateRule applies a partial merge.
func (m *MemoryStore) UpdateRule(_ context.Context, id string, patch rule.Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[id]
	if !ok {
		return ErrRuleNotFound
	}

	if patch.Enabled != nil {
		r.Enabled = *patch.Enabled
	}
	if patch.Stage != nil {
		r.Stage = *patch.Stage
	}
	if patch.Status != nil {
		r.Status = *patch.Status
	}
	if patch.Payload != nil {
		r.Payload = patch.Payload
	}
	if patch.CooldownUntil != nil {
		if patch.CooldownUntil.IsZero() {
			r.CooldownUntil = nil
		} else {
			cd := *patch.CooldownUntil
			r.CooldownUntil = &cd
		}
	}
	r.UpdatedAt = time.Now().UTC()
	m.rules[id] = r
	return nil
}

// DeleteRule removes a rule.
func (m *MemoryStore) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

// AppendEvent records an event; duplicate event ids are a no-op.
func (m *MemoryStore) AppendEvent(_ context.Context, ev rule.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.eventIDs[ev.EventID]; seen {
		return nil
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	m.eventIDs[ev.EventID] = struct{}{}
	m.events = append(m.events, ev)
	return nil
}

// ListEventsAfter pages events past the (after, afterID) cursor position
// in ascending (occurred_at, event_id) order.
func (m *MemoryStore) ListEventsAfter(_ context.Context, after time.Time, afterID string, limit int) ([]rule.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]rule.Event, 0)
	for _, ev := range m.events {
		if ev.OccurredAt.After(after) || (ev.OccurredAt.Equal(after) && ev.EventID > afterID) {
			matched = append(matched, ev)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].OccurredAt.Equal(matched[j].OccurredAt) {
			return matched[i].EventID < matched[j].EventID
		}
		return matched[i].OccurredAt.Before(matched[j].OccurredAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// ListRecentEvents lists events, newest first.
func (m *MemoryStore) ListRecentEvents(_ context.Context, limit int) ([]rule.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	events := make([]rule.Event, len(m.events))
	copy(events, m.events)
	sort.Slice(events, func(i, j int) bool { return events[i].OccurredAt.After(events[j].OccurredAt) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// DeleteEventsBefore removes aged-out events.
func (m *MemoryStore) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.events[:0]
	var deleted int64
	for _, ev := range m.events {
		if ev.OccurredAt.Before(cutoff) {
			deleted++
			delete(m.eventIDs, ev.EventID)
			continue
		}
		kept = append(kept, ev)
	}
	m.events = kept
	return deleted, nil
}

// RecordObservation stores a snapshot keyed by subject and bucket.
func (m *MemoryStore) RecordObservation(_ context.Context, obs ObservationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.observations[obs.Subject]
	for i := range list {
		if list[i].Bucket.Equal(obs.Bucket) {
			list[i] = obs
			return nil
		}
	}
	m.observations[obs.Subject] = append(list, obs)
	return nil
}

// ListObservationsBetween lists a subject's snapshots within a window.
func (m *MemoryStore) ListObservationsBetween(_ context.Context, subject string, from, to time.Time) ([]ObservationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	matched := make([]ObservationRecord, 0)
	for _, obs := range m.observations[subject] {
		if !obs.Bucket.Before(from) && obs.Bucket.Before(to) {
			matched = append(matched, obs)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Bucket.Before(matched[j].Bucket) })
	return matched, nil
}

// DeleteObservationsBefore removes aged-out snapshots.
func (m *MemoryStore) DeleteObservationsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for subject, list := range m.observations {
		kept := list[:0]
		for _, obs := range list {
			if obs.Bucket.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, obs)
		}
		m.observations[subject] = kept
	}
	return deleted, nil
}

var (
	_ RuleStore        = (*MemoryStore)(nil)
	_ EventLog         = (*MemoryStore)(nil)
	_ ObservationStore = (*MemoryStore)(nil)
)
