package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"token-watch/internal/rule"
)

// TelegramNotifier pushes event summaries through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram push channel.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "dispatch_telegram").Logger(),
	}
}

// Name identifies this transport in rule channel configs.
func (n *TelegramNotifier) Name() string { return "telegram" }

// Notify posts a sendMessage call for the event.
func (n *TelegramNotifier) Notify(ctx context.Context, ownerID string, ev rule.Event) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(ev),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("event_id", ev.EventID).
		Str("owner_id", ownerID).
		Str("type", ev.Type).
		Msg("push notification sent")
	return nil
}

func renderMessage(ev rule.Event) string {
	builder := strings.Builder{}
	builder.WriteString("[tokenwatch] ")
	builder.WriteString(ev.Type)
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Subject: %s\n", ev.Subject))
	builder.WriteString(fmt.Sprintf("Stage: %s (%s)\n", ev.Stage, ev.Status))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", ev.OccurredAt.UTC().Format(time.RFC3339)))
	if len(ev.Detail) > 0 {
		builder.WriteString(string(ev.Detail))
	}
	return builder.String()
}

var _ Channel = (*TelegramNotifier)(nil)
