// Package app wires configuration, clients and one scheduler per market
// into a running bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"spread-bot/internal/alerts"
	"spread-bot/internal/config"
	"spread-bot/internal/exchange"
	"spread-bot/internal/exchange/ws"
	"spread-bot/internal/exec"
	"spread-bot/internal/feeds"
	"spread-bot/internal/health"
	"spread-bot/internal/market"
	"spread-bot/internal/metrics"
	"spread-bot/internal/scheduler"
	"spread-bot/internal/state"
	"spread-bot/internal/state/sqlite"
	"spread-bot/internal/timescale"

	"go.uber.org/zap"
)

const (
	wsReconnectDelay = 5 * time.Second
	wsPingInterval   = 30 * time.Second
)

type App struct {
	cfg        *config.Config
	log        *zap.Logger
	store      *sqlite.Store
	exchange   *exchange.Client
	stream     *market.Stream
	source     *market.Source
	executor   *exec.Executor
	metrics    *metrics.Metrics
	alerts     *alerts.Telegram
	archive    *timescale.Writer
	health     *health.Server
	schedulers []*scheduler.Scheduler
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(os.Getenv("BINANCE_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("BINANCE_API_KEY is required")
	}
	apiSecret := strings.TrimSpace(os.Getenv("BINANCE_API_SECRET"))
	if apiSecret == "" {
		return nil, errors.New("BINANCE_API_SECRET is required")
	}
	signer, err := exchange.NewSigner(apiKey, apiSecret)
	if err != nil {
		return nil, err
	}
	exClient := exchange.New(cfg.Exchange, signer, log)

	m := metrics.NewNoop()
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		m = prom.Metrics
		metricsHandler = prom.Handler()
	}

	cache := market.NewCache(0)
	var stream *market.Stream
	if strings.TrimSpace(cfg.Exchange.WSURL) != "" {
		wsClient := ws.New(cfg.Exchange.WSURL, wsReconnectDelay, wsPingInterval, log)
		stream = market.NewStream(wsClient, cache, cfg.Markets, log)
	}
	priceClient := feeds.NewPriceClient(cfg.Feeds, log)
	source := market.NewSource(cache, exClient, priceClient, log)

	sentimentClient := feeds.NewSentimentClient(cfg.Feeds, os.Getenv("LUNARCRUSH_API_KEY"), log)
	alertsClient := alerts.NewTelegram(cfg.Telegram, os.Getenv("TELEGRAM_BOT_TOKEN"), log)
	archive, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, fmt.Errorf("timescale init: %w", err)
	}
	executor := exec.New(exClient, cfg.Mode, store, m, log)
	healthServer := health.New(cfg.Health.Addr, metricsHandler, log)

	app := &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		exchange: exClient,
		stream:   stream,
		source:   source,
		executor: executor,
		metrics:  m,
		alerts:   alertsClient,
		archive:  archive,
		health:   healthServer,
	}
	var sentimentFeed scheduler.SentimentFeed
	if sentimentClient.Enabled() {
		sentimentFeed = sentimentClient
	}
	for _, mc := range cfg.Markets {
		deps := scheduler.Deps{
			Ledger:    exClient,
			Prices:    source,
			Sentiment: sentimentFeed,
			Executor:  executor,
			Store:     store,
			Metrics:   m,
			Alerts:    alertsClient,
			Archive:   archive,
		}
		app.schedulers = append(app.schedulers, scheduler.New(mc, deps, log))
	}
	return app, nil
}

// Run blocks until ctx is canceled, then shuts down the health server and
// waits for every market loop to stop.
func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	defer a.archive.Close()

	a.log.Info("bot starting",
		zap.String("mode", string(a.cfg.Mode)),
		zap.Int("markets", len(a.cfg.Markets)),
		zap.Bool("metrics", a.cfg.Metrics.Enabled),
		zap.Bool("timescale", a.cfg.Timescale.Enabled),
	)
	a.reportLastCycles(ctx)

	a.archive.Start(ctx)
	if a.stream != nil {
		if err := a.stream.Start(ctx); err != nil {
			a.log.Warn("market stream unavailable, using REST prices", zap.Error(err))
		}
	}
	a.health.Start()
	defer func() {
		if err := a.health.Shutdown(context.Background()); err != nil {
			a.log.Warn("health server shutdown failed", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	for _, s := range a.schedulers {
		wg.Add(1)
		go func(s *scheduler.Scheduler) {
			defer wg.Done()
			if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("scheduler stopped", zap.Error(err))
			}
		}(s)
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// reportLastCycles logs what each market last did before this restart.
func (a *App) reportLastCycles(ctx context.Context) {
	for _, mc := range a.cfg.Markets {
		snapshot, ok, err := state.LoadCycleSnapshot(ctx, a.store, mc.Name())
		if err != nil {
			a.log.Warn("last cycle snapshot load failed", zap.String("market", mc.Name()), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		a.log.Info("last cycle before restart",
			zap.String("market", snapshot.Market),
			zap.Float64("bid", snapshot.Bid),
			zap.Float64("ask", snapshot.Ask),
			zap.Bool("buy_accepted", snapshot.BuyAccepted),
			zap.Bool("sell_accepted", snapshot.SellAccepted),
			zap.Int("open_orders", snapshot.OpenOrders),
			zap.Time("at", time.UnixMilli(snapshot.UpdatedAtMS).UTC()),
		)
	}
}
