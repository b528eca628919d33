package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"token-watch/internal/rule"
)

const snapshotPathFmt = "/tokens/%s/snapshot"

// MarketOptions parameterise the market-data API client.
type MarketOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Market fetches snapshots from the market-data API.
type Market struct {
	opts    MarketOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMarket constructs a market snapshot fetcher.
func NewMarket(opts MarketOptions, logger zerolog.Logger) *Market {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")

	return &Market{
		opts:    opts,
		logger:  logger.With().Str("component", "market_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type snapshotResponse struct {
	Timestamp      time.Time `json:"timestamp"`
	Price          string    `json:"price"`
	Volume         string    `json:"volume"`
	TradeCount     int64     `json:"trade_count"`
	HolderCount    int64     `json:"holder_count"`
	HolderDelta30m int64     `json:"holder_delta_30m"`
	HolderDelta6h  int64     `json:"holder_delta_6h"`
}

type errorResponse struct {
	ErrorType string `json:"error"`
	Message   string `json:"message"`
}

// FetchSnapshot retrieves the current observation for one subject. The
// request is bounded by the client timeout.
func (m *Market) FetchSnapshot(ctx context.Context, subject rule.Subject) (rule.Snapshot, error) {
	if m.baseURL == "" {
		return rule.Snapshot{}, errors.New("market base url not configured")
	}
	if subject.Token == "" {
		return rule.Snapshot{}, errors.New("subject token required")
	}

	endpoint := m.baseURL + fmt.Sprintf(snapshotPathFmt, url.PathEscape(subject.Token))
	if subject.Timeframe != "" {
		endpoint += "?timeframe=" + url.QueryEscape(subject.Timeframe)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return rule.Snapshot{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return rule.Snapshot{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return rule.Snapshot{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return rule.Snapshot{}, parseHTTPError(resp.StatusCode, payload)
	}

	var body snapshotResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return rule.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return rule.Snapshot{}, fmt.Errorf("parse price: %w", err)
	}
	volume, err := decimal.NewFromString(body.Volume)
	if err != nil {
		return rule.Snapshot{}, fmt.Errorf("parse volume: %w", err)
	}

	ts := body.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return rule.Snapshot{
		Timestamp:      ts,
		Price:          price,
		Volume:         volume,
		TradeCount:     body.TradeCount,
		HolderCount:    body.HolderCount,
		HolderDelta30m: body.HolderDelta30m,
		HolderDelta6h:  body.HolderDelta6h,
	}, nil
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("market api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("market api error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("market api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("market api error (%d)", status)
}

var _ ObservationFetcher = (*Market)(nil)
