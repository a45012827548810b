// Package scheduler runs the per-market reconciliation loop: fetch the
// venue and feed state, decide both order sides, then act on what was
// accepted. Cycles never overlap and missed ticks are not replayed.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spread-bot/internal/config"
	"spread-bot/internal/engine"
	"spread-bot/internal/metrics"
	"spread-bot/internal/state"
	"spread-bot/internal/timescale"

	"go.uber.org/zap"
)

type Ledger interface {
	FetchBalances(ctx context.Context, market config.MarketConfig) (engine.Balances, error)
	OpenOrders(ctx context.Context, market config.MarketConfig) ([]engine.Order, error)
	ClosedOrders(ctx context.Context, market config.MarketConfig, since time.Time) ([]engine.Order, error)
}

type Pricer interface {
	Snapshot(ctx context.Context, market config.MarketConfig) (engine.PriceSnapshot, error)
}

type SentimentFeed interface {
	Fetch(ctx context.Context, symbol string) (*engine.Sentiment, error)
}

type OrderPlacer interface {
	Place(ctx context.Context, market config.MarketConfig, c engine.Candidate) (*engine.Order, error)
	Cancel(ctx context.Context, market config.MarketConfig, order engine.Order) error
}

type Notifier interface {
	Send(ctx context.Context, message string) error
}

// Deps carries the collaborators one scheduler works with. Sentiment,
// Store, Alerts and Archive may be nil; the loop degrades gracefully.
type Deps struct {
	Ledger    Ledger
	Prices    Pricer
	Sentiment SentimentFeed
	Executor  OrderPlacer
	Store     state.Store
	Metrics   *metrics.Metrics
	Alerts    Notifier
	Archive   *timescale.Writer
}

type Scheduler struct {
	market  config.MarketConfig
	deps    Deps
	machine *StateMachine
	log     *zap.Logger
	now     func() time.Time
}

func New(market config.MarketConfig, deps Deps, log *zap.Logger) *Scheduler {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNoop()
	}
	return &Scheduler{
		market:  market,
		deps:    deps,
		machine: NewStateMachine(),
		log:     log.With(zap.String("market", market.Name())),
		now:     time.Now,
	}
}

// Run blocks until ctx is canceled. The start delay staggers markets so
// they do not hit the venue at the same instant.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler starting",
		zap.Duration("poll_interval", s.market.PollInterval),
		zap.Duration("start_delay", s.market.StartDelay),
		zap.Float64("buy_spread", s.market.BuySpread),
		zap.Float64("sell_spread", s.market.SellSpread),
		zap.Float64("buy_allocation", s.market.BuyAllocation),
		zap.Float64("sell_allocation", s.market.SellAllocation),
	)
	if s.market.StartDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.market.StartDelay):
		}
	}
	s.runCycle(ctx)
	ticker := time.NewTicker(s.market.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	s.machine.Apply(EventTick)
	cycle, err := s.fetch(ctx)
	if err != nil {
		s.machine.Apply(EventAbort)
		s.deps.Metrics.FetchFailures.Inc()
		s.deps.Metrics.CyclesSkipped.Inc()
		s.log.Warn("cycle skipped: fetch failed", zap.Error(err))
		return
	}
	s.machine.Apply(EventFetched)

	s.logCycle(cycle)
	if s.bothSidesRestingAndPinned(cycle) {
		s.machine.Apply(EventAbort)
		s.deps.Metrics.CyclesSkipped.Inc()
		s.log.Info("cycle skipped: both sides resting and replacement disabled")
		return
	}

	buy := engine.ComputeBuyCandidate(cycle)
	sell := engine.ComputeSellCandidate(cycle)
	buyVerdict := engine.Decide(buy, cycle)
	sellVerdict := engine.Decide(sell, cycle)
	s.machine.Apply(EventDecided)

	s.log.Info("cycle decided",
		zap.Bool("buy_accepted", buyVerdict.Accept),
		zap.String("buy_reason", buyVerdict.Reason),
		zap.Bool("sell_accepted", sellVerdict.Accept),
		zap.String("sell_reason", sellVerdict.Reason),
	)

	var wg sync.WaitGroup
	for _, action := range []struct {
		candidate engine.Candidate
		verdict   engine.Verdict
	}{
		{buy, buyVerdict},
		{sell, sellVerdict},
	} {
		if !action.verdict.Accept {
			continue
		}
		wg.Add(1)
		go func(c engine.Candidate) {
			defer wg.Done()
			s.act(ctx, cycle, c)
		}(action.candidate)
	}
	wg.Wait()
	s.machine.Apply(EventDone)
	s.deps.Metrics.CyclesRun.Inc()

	s.record(ctx, cycle, buy, sell, buyVerdict, sellVerdict)
}

func (s *Scheduler) fetch(ctx context.Context) (engine.CycleContext, error) {
	fctx := ctx
	if s.market.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, s.market.FetchTimeout)
		defer cancel()
	}

	var (
		wg        sync.WaitGroup
		balances  engine.Balances
		price     engine.PriceSnapshot
		open      []engine.Order
		closed    []engine.Order
		sentiment *engine.Sentiment

		balancesErr, priceErr, openErr, closedErr error
	)
	since := s.now().Add(-s.market.ClosedOrderLookback)

	wg.Add(4)
	go func() {
		defer wg.Done()
		balances, balancesErr = s.deps.Ledger.FetchBalances(fctx, s.market)
	}()
	go func() {
		defer wg.Done()
		price, priceErr = s.deps.Prices.Snapshot(fctx, s.market)
	}()
	go func() {
		defer wg.Done()
		open, openErr = s.deps.Ledger.OpenOrders(fctx, s.market)
	}()
	go func() {
		defer wg.Done()
		closed, closedErr = s.deps.Ledger.ClosedOrders(fctx, s.market, since)
	}()
	if s.deps.Sentiment != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			sentiment, err = s.deps.Sentiment.Fetch(fctx, s.market.Asset.Symbol)
			if err != nil {
				s.log.Warn("sentiment fetch failed, running neutral", zap.Error(err))
				sentiment = nil
			}
		}()
	}
	wg.Wait()

	for _, err := range []error{balancesErr, priceErr, openErr, closedErr} {
		if err != nil {
			return engine.CycleContext{}, err
		}
	}
	return engine.CycleContext{
		Market:    s.market,
		Price:     price,
		Balances:  balances,
		Sentiment: sentiment,
		Ledger:    engine.LedgerSnapshot{Open: open, Closed: closed},
	}, nil
}

// bothSidesRestingAndPinned reports whether acting is pointless this cycle:
// each side already has a resting order and neither side may replace.
func (s *Scheduler) bothSidesRestingAndPinned(cycle engine.CycleContext) bool {
	if cycle.Ledger.OpenOrder(engine.SideBuy) == nil || cycle.Ledger.OpenOrder(engine.SideSell) == nil {
		return false
	}
	return !s.market.BuyReplaceEnabled() && !s.market.SellReplaceEnabled()
}

func (s *Scheduler) act(ctx context.Context, cycle engine.CycleContext, c engine.Candidate) {
	if resting := cycle.Ledger.OpenOrder(c.Side); resting != nil {
		if err := s.deps.Executor.Cancel(ctx, s.market, *resting); err != nil {
			s.log.Warn("replace aborted: cancel failed",
				zap.String("side", string(c.Side)),
				zap.String("order_id", resting.ID),
				zap.Error(err),
			)
			s.notify(ctx, fmt.Sprintf("%s %s cancel failed: %v", s.market.Name(), c.Side, err))
			return
		}
	}
	order, err := s.deps.Executor.Place(ctx, s.market, c)
	if err != nil {
		s.log.Warn("order placement failed",
			zap.String("side", string(c.Side)),
			zap.Float64("price", c.Price),
			zap.Float64("volume", c.Volume),
			zap.Error(err),
		)
		s.notify(ctx, fmt.Sprintf("%s %s placement failed: %v", s.market.Name(), c.Side, err))
		return
	}
	if order != nil {
		s.notify(ctx, fmt.Sprintf("%s: placed %s %.8f @ %.8f", s.market.Name(), c.Side, c.Volume, c.Price))
	}
}

func (s *Scheduler) notify(ctx context.Context, message string) {
	if s.deps.Alerts == nil {
		return
	}
	if err := s.deps.Alerts.Send(ctx, message); err != nil {
		s.log.Warn("alert send failed", zap.Error(err))
	}
}

func (s *Scheduler) logCycle(cycle engine.CycleContext) {
	fields := []zap.Field{
		zap.Float64("bid", cycle.Price.Bid),
		zap.Float64("ask", cycle.Price.Ask),
		zap.Float64("base_free", cycle.Balances.BaseFree),
		zap.Float64("asset_free", cycle.Balances.AssetFree),
		zap.Int("open_orders", len(cycle.Ledger.Open)),
		zap.Int("closed_orders", len(cycle.Ledger.Closed)),
	}
	if cycle.Sentiment != nil {
		fields = append(fields,
			zap.Float64("volatility", cycle.Sentiment.Volatility),
			zap.Float64("correlation_rank", cycle.Sentiment.CorrelationRank),
		)
	}
	s.log.Info("cycle state", fields...)
}

func (s *Scheduler) record(ctx context.Context, cycle engine.CycleContext, buy, sell engine.Candidate, buyVerdict, sellVerdict engine.Verdict) {
	now := s.now().UTC()
	snapshot := state.CycleSnapshot{
		Market:       s.market.Name(),
		Bid:          cycle.Price.Bid,
		Ask:          cycle.Price.Ask,
		BaseFree:     cycle.Balances.BaseFree,
		AssetFree:    cycle.Balances.AssetFree,
		BuyAccepted:  buyVerdict.Accept,
		SellAccepted: sellVerdict.Accept,
		BuyReason:    buyVerdict.Reason,
		SellReason:   sellVerdict.Reason,
		OpenOrders:   len(cycle.Ledger.Open),
		UpdatedAtMS:  now.UnixMilli(),
	}
	if err := state.SaveCycleSnapshot(ctx, s.deps.Store, snapshot); err != nil {
		s.log.Warn("cycle snapshot save failed", zap.Error(err))
	}

	record := timescale.CycleRecord{
		Time:         now,
		Market:       s.market.Name(),
		Bid:          cycle.Price.Bid,
		Ask:          cycle.Price.Ask,
		BaseFree:     cycle.Balances.BaseFree,
		AssetFree:    cycle.Balances.AssetFree,
		BuyAccepted:  buyVerdict.Accept,
		SellAccepted: sellVerdict.Accept,
		BuyReason:    buyVerdict.Reason,
		SellReason:   sellVerdict.Reason,
		BuyPrice:     buy.Price,
		BuyVolume:    buy.Volume,
		SellPrice:    sell.Price,
		SellVolume:   sell.Volume,
		OpenOrders:   len(cycle.Ledger.Open),
	}
	if cycle.Sentiment != nil {
		record.HasSentiment = true
		record.Volatility = cycle.Sentiment.Volatility
		record.CorrelationRank = cycle.Sentiment.CorrelationRank
	}
	s.deps.Archive.EnqueueCycle(record)
}
