package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func dialLive(t *testing.T, srv *httptest.Server, owner string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?owner=" + owner
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestLiveHubDeliversToOwner(t *testing.T) {
	hub := NewLiveHub(zerolog.Nop())
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn := dialLive(t, srv, "owner-1")
	other := dialLive(t, srv, "owner-2")

	if err := hub.Notify(context.Background(), "owner-1", sampleEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got liveEvent
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.EventID != "ev-1" || got.Subject != "PEPE@5m" {
		t.Errorf("got = %+v", got)
	}

	// The other owner's subscription sees nothing.
	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("unexpected delivery to other owner")
	}
}

func TestLiveHubRejectsMissingOwner(t *testing.T) {
	hub := NewLiveHub(zerolog.Nop())
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
