package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"token-watch/internal/rule"
)

const liveWriteTimeout = 5 * time.Second

// liveEvent is the wire shape pushed to live subscribers.
type liveEvent struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	RuleID     string          `json:"rule_id"`
	Subject    string          `json:"subject"`
	Stage      string          `json:"stage"`
	Status     string          `json:"status"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

// LiveHub fans events out to websocket subscribers keyed by owner. Writes
// are best-effort: a slow or broken connection is dropped, never waited on
// beyond the write deadline.
type LiveHub struct {
	mu       sync.Mutex
	conns    map[string]map[*websocket.Conn]struct{}
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewLiveHub builds an empty live subscription hub.
func NewLiveHub(logger zerolog.Logger) *LiveHub {
	return &LiveHub{
		conns: make(map[string]map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.With().Str("component", "dispatch_live").Logger(),
	}
}

// Handler upgrades subscription requests. The owner is identified by the
// `owner` query parameter; authentication happens upstream.
func (h *LiveHub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			http.Error(w, "owner query parameter required", http.StatusBadRequest)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		h.register(owner, conn)
		h.logger.Debug().Str("owner_id", owner).Msg("live subscriber connected")

		// Reader loop exists only to observe close frames.
		go func() {
			defer h.unregister(owner, conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	})
}

func (h *LiveHub) register(owner string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[owner]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		h.conns[owner] = set
	}
	set[conn] = struct{}{}
}

func (h *LiveHub) unregister(owner string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[owner]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, owner)
		}
	}
	_ = conn.Close()
}

// Name identifies this transport in rule channel configs.
func (h *LiveHub) Name() string { return "live" }

// Notify writes the event to every live subscription of the owner.
func (h *LiveHub) Notify(_ context.Context, ownerID string, ev rule.Event) error {
	payload := liveEvent{
		EventID:    ev.EventID,
		Type:       ev.Type,
		OccurredAt: ev.OccurredAt,
		RuleID:     ev.RuleID,
		Subject:    ev.Subject.String(),
		Stage:      string(ev.Stage),
		Status:     string(ev.Status),
		Detail:     ev.Detail,
	}

	h.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(h.conns[ownerID]))
	for conn := range h.conns[ownerID] {
		targets = append(targets, conn)
	}
	h.mu.Unlock()

	for _, conn := range targets {
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		if err := conn.WriteJSON(payload); err != nil {
			h.logger.Debug().Err(err).Str("owner_id", ownerID).Msg("dropping live subscriber")
			h.unregister(ownerID, conn)
		}
	}
	return nil
}

var _ Channel = (*LiveHub)(nil)
