package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type TradingMode string

const (
	ModeLive   TradingMode = "live"
	ModeDryRun TradingMode = "dry-run"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Mode      TradingMode     `yaml:"mode"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Feeds     FeedsConfig     `yaml:"feeds"`
	Health    HealthConfig    `yaml:"health"`
	State     StateConfig     `yaml:"state"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Markets   []MarketConfig  `yaml:"markets"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ExchangeConfig struct {
	BaseURL    string        `yaml:"base_url"`
	WSURL      string        `yaml:"ws_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RatePerSec float64       `yaml:"rate_per_sec"`
	RateBurst  int           `yaml:"rate_burst"`
	RecvWindow time.Duration `yaml:"recv_window"`
}

type FeedsConfig struct {
	PriceBaseURL     string        `yaml:"price_base_url"`
	SentimentBaseURL string        `yaml:"sentiment_base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	RatePerSec       float64       `yaml:"rate_per_sec"`
}

type HealthConfig struct {
	Addr string `yaml:"addr"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	ChatID  string `yaml:"chat_id"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AssetRef names one currency in both namespaces the bot talks to: the
// reference price feed (feed_id) and the trading venue (symbol).
type AssetRef struct {
	FeedID string `yaml:"feed_id"`
	Symbol string `yaml:"symbol"`
}

type MarketConfig struct {
	Asset                 AssetRef      `yaml:"asset"`
	Base                  AssetRef      `yaml:"base"`
	BuySpread             float64       `yaml:"buy_spread"`
	SellSpread            float64       `yaml:"sell_spread"`
	BuyAllocation         float64       `yaml:"buy_allocation"`
	SellAllocation        float64       `yaml:"sell_allocation"`
	MinOrderNotional      float64       `yaml:"min_order_notional"`
	CorrelationStandpoint float64       `yaml:"correlation_standpoint"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	StartDelay            time.Duration `yaml:"start_delay"`
	FetchTimeout          time.Duration `yaml:"fetch_timeout"`
	ClosedOrderLookback   time.Duration `yaml:"closed_order_lookback"`
	BuyReplace            *bool         `yaml:"buy_replace"`
	SellReplace           *bool         `yaml:"sell_replace"`
}

// Name is the market identifier used in logs, e.g. DOGE/BUSD.
func (m MarketConfig) Name() string {
	return m.Asset.Symbol + "/" + m.Base.Symbol
}

// PairSymbol is the venue's concatenated symbol, e.g. DOGEBUSD.
func (m MarketConfig) PairSymbol() string {
	return m.Asset.Symbol + m.Base.Symbol
}

// BuyReplaceEnabled reports whether an open buy order may be replaced when
// the closed-order history signals a new favorable level. Defaults to true,
// matching the buy side of the original strategy.
func (m MarketConfig) BuyReplaceEnabled() bool {
	if m.BuyReplace == nil {
		return true
	}
	return *m.BuyReplace
}

// SellReplaceEnabled defaults to false; a resting sell order is left alone
// until it fills.
func (m MarketConfig) SellReplaceEnabled() bool {
	if m.SellReplace == nil {
		return false
	}
	return *m.SellReplace
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDryRun
	}
	if cfg.Exchange.BaseURL == "" {
		cfg.Exchange.BaseURL = "https://api.binance.com"
	}
	if cfg.Exchange.WSURL == "" {
		cfg.Exchange.WSURL = "wss://stream.binance.com:9443/ws"
	}
	if cfg.Exchange.Timeout == 0 {
		cfg.Exchange.Timeout = 10 * time.Second
	}
	if cfg.Exchange.RatePerSec == 0 {
		cfg.Exchange.RatePerSec = 10
	}
	if cfg.Exchange.RateBurst == 0 {
		cfg.Exchange.RateBurst = 20
	}
	if cfg.Exchange.RecvWindow == 0 {
		cfg.Exchange.RecvWindow = 5 * time.Second
	}
	if cfg.Feeds.PriceBaseURL == "" {
		cfg.Feeds.PriceBaseURL = "https://api.coingecko.com"
	}
	if cfg.Feeds.SentimentBaseURL == "" {
		cfg.Feeds.SentimentBaseURL = "https://api.lunarcrush.com"
	}
	if cfg.Feeds.Timeout == 0 {
		cfg.Feeds.Timeout = 10 * time.Second
	}
	if cfg.Feeds.RatePerSec == 0 {
		cfg.Feeds.RatePerSec = 1
	}
	if cfg.Health.Addr == "" {
		cfg.Health.Addr = ":3010"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/spread-bot.db"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	for i := range cfg.Markets {
		m := &cfg.Markets[i]
		if m.CorrelationStandpoint == 0 {
			m.CorrelationStandpoint = 2.5
		}
		if m.PollInterval == 0 {
			m.PollInterval = time.Minute
		}
		if m.StartDelay == 0 {
			m.StartDelay = time.Duration(i) * 10 * time.Second
		}
		if m.FetchTimeout == 0 {
			m.FetchTimeout = 15 * time.Second
		}
		if m.ClosedOrderLookback == 0 {
			m.ClosedOrderLookback = 7 * 24 * time.Hour
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Mode != ModeLive && cfg.Mode != ModeDryRun {
		return fmt.Errorf("mode must be %q or %q", ModeLive, ModeDryRun)
	}
	if len(cfg.Markets) == 0 {
		return errors.New("at least one market is required")
	}
	seen := make(map[string]struct{}, len(cfg.Markets))
	for i, m := range cfg.Markets {
		if m.Asset.Symbol == "" || m.Base.Symbol == "" {
			return fmt.Errorf("markets[%d]: asset.symbol and base.symbol are required", i)
		}
		name := m.Name()
		if _, dup := seen[name]; dup {
			return fmt.Errorf("markets[%d]: duplicate market %s", i, name)
		}
		seen[name] = struct{}{}
		if err := checkFraction(name, "buy_spread", m.BuySpread); err != nil {
			return err
		}
		if err := checkFraction(name, "sell_spread", m.SellSpread); err != nil {
			return err
		}
		if err := checkFraction(name, "buy_allocation", m.BuyAllocation); err != nil {
			return err
		}
		if err := checkFraction(name, "sell_allocation", m.SellAllocation); err != nil {
			return err
		}
		if m.MinOrderNotional <= 0 {
			return fmt.Errorf("market %s: min_order_notional must be > 0", name)
		}
		if m.CorrelationStandpoint <= 0 {
			return fmt.Errorf("market %s: correlation_standpoint must be > 0", name)
		}
		if m.PollInterval <= 0 {
			return fmt.Errorf("market %s: poll_interval must be > 0", name)
		}
	}
	return nil
}

func checkFraction(market, field string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("market %s: %s must be within [0,1]", market, field)
	}
	return nil
}
