package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"token-watch/internal/rule"
)

func TestFetchSnapshot(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"timestamp": "2026-03-01T12:00:00Z",
			"price": "0.00001234",
			"volume": "158000.5",
			"trade_count": 42,
			"holder_count": 1800,
			"holder_delta_30m": 12,
			"holder_delta_6h": 90
		}`))
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{BaseURL: srv.URL}, zerolog.Nop())
	snap, err := m.FetchSnapshot(context.Background(), rule.Subject{Token: "PEPE", Timeframe: "5m"})
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}

	if gotPath != "/tokens/PEPE/snapshot" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "timeframe=5m" {
		t.Errorf("query = %q", gotQuery)
	}
	if snap.Price.String() != "0.00001234" {
		t.Errorf("price = %s", snap.Price)
	}
	if snap.Volume.String() != "158000.5" {
		t.Errorf("volume = %s", snap.Volume)
	}
	if snap.TradeCount != 42 || snap.HolderCount != 1800 {
		t.Errorf("counts = %d, %d", snap.TradeCount, snap.HolderCount)
	}
	if snap.Timestamp.IsZero() {
		t.Error("timestamp not parsed")
	}
}

func TestFetchSnapshotAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "rate_limited", "message": "slow down"}`))
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{BaseURL: srv.URL}, zerolog.Nop())
	_, err := m.FetchSnapshot(context.Background(), rule.Subject{Token: "PEPE"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "slow down") {
		t.Errorf("error = %v, want api message surfaced", err)
	}
}

func TestFetchSnapshotBadPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price": "not-a-number", "volume": "1"}`))
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{BaseURL: srv.URL}, zerolog.Nop())
	_, err := m.FetchSnapshot(context.Background(), rule.Subject{Token: "PEPE"})
	if err == nil || !strings.Contains(err.Error(), "parse price") {
		t.Errorf("error = %v, want price parse failure", err)
	}
}

func TestFetchSnapshotRequiresToken(t *testing.T) {
	m := NewMarket(MarketOptions{BaseURL: "http://localhost:1"}, zerolog.Nop())
	if _, err := m.FetchSnapshot(context.Background(), rule.Subject{}); err == nil {
		t.Fatal("expected error for empty token")
	}
}
