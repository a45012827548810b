package app

import (
	"path/filepath"
	"testing"
	"time"

	"spread-bot/internal/config"

	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Mode: config.ModeDryRun,
		Exchange: config.ExchangeConfig{
			BaseURL: "https://api.example.test",
			Timeout: 5 * time.Second,
		},
		Feeds: config.FeedsConfig{
			PriceBaseURL:     "https://prices.example.test",
			SentimentBaseURL: "https://sentiment.example.test",
			Timeout:          5 * time.Second,
		},
		Health:  config.HealthConfig{Addr: "127.0.0.1:0"},
		State:   config.StateConfig{SQLitePath: filepath.Join(t.TempDir(), "state.db")},
		Metrics: config.MetricsConfig{Enabled: true},
		Markets: []config.MarketConfig{
			{
				Asset:                 config.AssetRef{FeedID: "dogecoin", Symbol: "DOGE"},
				Base:                  config.AssetRef{FeedID: "binance-usd", Symbol: "BUSD"},
				BuySpread:             0.02,
				SellSpread:            0.02,
				BuyAllocation:         0.5,
				SellAllocation:        0.5,
				MinOrderNotional:      10,
				CorrelationStandpoint: 2.5,
				PollInterval:          time.Minute,
				FetchTimeout:          10 * time.Second,
				ClosedOrderLookback:   7 * 24 * time.Hour,
			},
		},
	}
}

func TestNewRequiresAPICredentials(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")
	if _, err := New(testConfig(t), zap.NewNop()); err == nil {
		t.Fatalf("expected error without api credentials")
	}

	t.Setenv("BINANCE_API_KEY", "key")
	if _, err := New(testConfig(t), zap.NewNop()); err == nil {
		t.Fatalf("expected error without api secret")
	}
}

func TestNewBuildsOneSchedulerPerMarket(t *testing.T) {
	t.Setenv("BINANCE_API_KEY", "key")
	t.Setenv("BINANCE_API_SECRET", "secret")
	cfg := testConfig(t)
	second := cfg.Markets[0]
	second.Asset = config.AssetRef{FeedID: "shiba-inu", Symbol: "SHIB"}
	cfg.Markets = append(cfg.Markets, second)

	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("expected app to build offline, got %v", err)
	}
	defer a.store.Close()

	if len(a.schedulers) != 2 {
		t.Fatalf("expected 2 schedulers, got %d", len(a.schedulers))
	}
	if a.archive != nil {
		t.Fatalf("expected nil archive when timescale disabled")
	}
}
