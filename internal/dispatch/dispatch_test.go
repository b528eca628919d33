package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"token-watch/internal/rule"
)

func sampleEvent() rule.Event {
	return rule.Event{
		EventID:    "ev-1",
		Type:       rule.EventThresholdFired,
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		RuleID:     "r1",
		OwnerID:    "owner-1",
		Subject:    rule.Subject{Token: "PEPE", Timeframe: "5m"},
		Stage:      rule.StageWatching,
		Status:     rule.StatusActive,
	}
}

type recordingChannel struct {
	name      string
	delivered []rule.Event
	err       error
	panics    bool
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Notify(_ context.Context, _ string, ev rule.Event) error {
	if c.panics {
		panic("channel blew up")
	}
	if c.err != nil {
		return c.err
	}
	c.delivered = append(c.delivered, ev)
	return nil
}

func TestFanoutDeliversToAllChannelsByDefault(t *testing.T) {
	a := &recordingChannel{name: "live"}
	b := &recordingChannel{name: "telegram"}
	hub := NewFanout(zerolog.Nop(), a, b)

	if err := hub.Notify(context.Background(), "owner-1", nil, sampleEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(a.delivered) != 1 || len(b.delivered) != 1 {
		t.Errorf("delivered = %d, %d; want 1, 1", len(a.delivered), len(b.delivered))
	}
}

func TestFanoutRoutesByRuleChannels(t *testing.T) {
	live := &recordingChannel{name: "live"}
	telegram := &recordingChannel{name: "telegram"}
	hub := NewFanout(zerolog.Nop(), live, telegram)

	if err := hub.Notify(context.Background(), "owner-1", []string{"telegram"}, sampleEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(telegram.delivered) != 1 {
		t.Errorf("telegram delivered = %d, want 1", len(telegram.delivered))
	}
	if len(live.delivered) != 0 {
		t.Errorf("live delivered = %d, want 0", len(live.delivered))
	}
}

func TestFanoutIsolatesChannelFailures(t *testing.T) {
	broken := &recordingChannel{name: "broken", err: errors.New("transport down")}
	panicky := &recordingChannel{name: "panicky", panics: true}
	healthy := &recordingChannel{name: "healthy"}
	hub := NewFanout(zerolog.Nop(), broken, panicky, healthy)

	if err := hub.Notify(context.Background(), "owner-1", nil, sampleEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(healthy.delivered) != 1 {
		t.Errorf("healthy channel delivered = %d, want 1", len(healthy.delivered))
	}
}

func TestTelegramNotify(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("test-token", "12345", srv.URL, 0, zerolog.Nop())
	if err := n.Notify(context.Background(), "owner-1", sampleEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["chat_id"] != "12345" {
		t.Errorf("chat_id = %q", gotBody["chat_id"])
	}
	if !strings.Contains(gotBody["text"], "PEPE@5m") {
		t.Errorf("text = %q, want subject included", gotBody["text"])
	}
}

func TestTelegramNotifyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": false}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("test-token", "12345", srv.URL, 0, zerolog.Nop())
	if err := n.Notify(context.Background(), "owner-1", sampleEvent()); err == nil {
		t.Fatal("expected error for ok=false")
	}
}
