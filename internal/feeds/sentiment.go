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
	"spread-bot/internal/engine"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// SentimentClient fetches social scoring data (volatility, correlation
// rank) for an asset. The data is advisory: callers treat any failure as
// "no sentiment" and run neutral.
type SentimentClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

func NewSentimentClient(cfg config.FeedsConfig, apiKey string, log *zap.Logger) *SentimentClient {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	return &SentimentClient{
		baseURL: strings.TrimRight(cfg.SentimentBaseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		log:     log,
	}
}

// Enabled reports whether the feed is usable at all. Without an api key the
// bot runs permanently neutral.
func (c *SentimentClient) Enabled() bool {
	return c.apiKey != ""
}

// Fetch returns the asset's sentiment, or (nil, nil) when the feed has no
// data for it.
func (c *SentimentClient) Fetch(ctx context.Context, symbol string) (*engine.Sentiment, error) {
	if !c.Enabled() {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	reqURL := fmt.Sprintf("%s/v2?data=assets&key=%s&symbol=%s&data_points=0",
		c.baseURL, url.QueryEscape(c.apiKey), url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Data []struct {
			Volatility      float64 `json:"volatility"`
			CorrelationRank float64 `json:"correlation_rank"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 {
		return nil, nil
	}
	return &engine.Sentiment{
		Volatility:      payload.Data[0].Volatility,
		CorrelationRank: payload.Data[0].CorrelationRank,
	}, nil
}
