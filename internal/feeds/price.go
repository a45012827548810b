// Package feeds holds the clients for the external reference-price and
// sentiment services.
package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"spread-bot/internal/config"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PriceClient fetches USD spot prices by feed id from a CoinGecko-style
// simple price endpoint.
type PriceClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewPriceClient(cfg config.FeedsConfig, log *zap.Logger) *PriceClient {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	return &PriceClient{
		baseURL: strings.TrimRight(cfg.PriceBaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		log:     log,
	}
}

func (c *PriceClient) USDPrice(ctx context.Context, feedID string) (float64, error) {
	if feedID == "" {
		return 0, fmt.Errorf("feed id is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	reqURL := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd", c.baseURL, url.QueryEscape(feedID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return 0, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var data map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, err
	}
	entry, ok := data[feedID]
	if !ok || entry.USD <= 0 {
		return 0, fmt.Errorf("no usd price for %s", feedID)
	}
	return entry.USD, nil
}
