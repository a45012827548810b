package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"spread-bot/internal/config"
	"spread-bot/internal/engine"
	"spread-bot/internal/metrics"
	"spread-bot/internal/state"

	"go.uber.org/zap"
)

type fakeLedger struct {
	balances    engine.Balances
	balancesErr error
	open        []engine.Order
	openErr     error
	closed      []engine.Order
	closedErr   error
}

func (f *fakeLedger) FetchBalances(ctx context.Context, market config.MarketConfig) (engine.Balances, error) {
	return f.balances, f.balancesErr
}

func (f *fakeLedger) OpenOrders(ctx context.Context, market config.MarketConfig) ([]engine.Order, error) {
	return f.open, f.openErr
}

func (f *fakeLedger) ClosedOrders(ctx context.Context, market config.MarketConfig, since time.Time) ([]engine.Order, error) {
	return f.closed, f.closedErr
}

type fakePricer struct {
	price engine.PriceSnapshot
	err   error
}

func (f *fakePricer) Snapshot(ctx context.Context, market config.MarketConfig) (engine.PriceSnapshot, error) {
	return f.price, f.err
}

type fakeSentiment struct {
	sentiment *engine.Sentiment
	err       error
}

func (f *fakeSentiment) Fetch(ctx context.Context, symbol string) (*engine.Sentiment, error) {
	return f.sentiment, f.err
}

type fakeExecutor struct {
	mu        sync.Mutex
	events    []string
	cancelErr error
	placeErr  error
}

func (f *fakeExecutor) Place(ctx context.Context, market config.MarketConfig, c engine.Candidate) (*engine.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.events = append(f.events, "place:"+string(c.Side))
	return &engine.Order{ID: "new", Side: c.Side, Price: c.Price, Amount: c.Volume}, nil
}

func (f *fakeExecutor) Cancel(ctx context.Context, market config.MarketConfig, order engine.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.events = append(f.events, "cancel:"+order.ID)
	return nil
}

func (f *fakeExecutor) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	copy(out, f.events)
	return out
}

type countCounter struct {
	mu sync.Mutex
	n  int
}

func (c *countCounter) Inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *countCounter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type testMetrics struct {
	metrics       *metrics.Metrics
	cyclesRun     *countCounter
	cyclesSkipped *countCounter
	fetchFailures *countCounter
}

func newTestMetrics() *testMetrics {
	run := &countCounter{}
	skipped := &countCounter{}
	fetch := &countCounter{}
	return &testMetrics{
		metrics: &metrics.Metrics{
			CyclesRun:      run,
			CyclesSkipped:  skipped,
			FetchFailures:  fetch,
			OrdersPlaced:   &countCounter{},
			OrdersCanceled: &countCounter{},
			OrdersFailed:   &countCounter{},
		},
		cyclesRun:     run,
		cyclesSkipped: skipped,
		fetchFailures: fetch,
	}
}

type kvStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newKVStore() *kvStore {
	return &kvStore{data: map[string]string{}}
}

func (s *kvStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *kvStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *kvStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *kvStore) Close() error { return nil }

func schedulerMarket() config.MarketConfig {
	return config.MarketConfig{
		Asset:                 config.AssetRef{FeedID: "dogecoin", Symbol: "DOGE"},
		Base:                  config.AssetRef{FeedID: "binance-usd", Symbol: "BUSD"},
		BuySpread:             0.02,
		SellSpread:            0.02,
		BuyAllocation:         0.5,
		SellAllocation:        0.25,
		MinOrderNotional:      10,
		CorrelationStandpoint: 2.5,
		PollInterval:          time.Minute,
		FetchTimeout:          10 * time.Second,
		ClosedOrderLookback:   7 * 24 * time.Hour,
	}
}

func newTestScheduler(market config.MarketConfig, ledger *fakeLedger, executor *fakeExecutor, sentiment SentimentFeed, store state.Store, tm *testMetrics) *Scheduler {
	deps := Deps{
		Ledger:    ledger,
		Prices:    &fakePricer{price: engine.PriceSnapshot{Bid: 0.1, Ask: 0.102}},
		Sentiment: sentiment,
		Executor:  executor,
		Store:     store,
		Metrics:   tm.metrics,
	}
	s := New(market, deps, zap.NewNop())
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func TestCycleActsOnBothSides(t *testing.T) {
	ledger := &fakeLedger{balances: engine.Balances{BaseFree: 500, AssetFree: 5000}}
	executor := &fakeExecutor{}
	store := newKVStore()
	tm := newTestMetrics()
	s := newTestScheduler(schedulerMarket(), ledger, executor, nil, store, tm)

	s.runCycle(context.Background())

	events := executor.recorded()
	if len(events) != 2 {
		t.Fatalf("expected 2 placements, got %v", events)
	}
	var sawBuy, sawSell bool
	for _, e := range events {
		if e == "place:buy" {
			sawBuy = true
		}
		if e == "place:sell" {
			sawSell = true
		}
	}
	if !sawBuy || !sawSell {
		t.Fatalf("expected both sides placed, got %v", events)
	}
	if got := s.machine.Current(); got != StateIdle {
		t.Fatalf("expected idle after cycle, got %s", got)
	}
	if tm.cyclesRun.value() != 1 {
		t.Fatalf("expected 1 completed cycle, got %d", tm.cyclesRun.value())
	}

	snapshot, ok, err := state.LoadCycleSnapshot(context.Background(), store, "DOGE/BUSD")
	if err != nil || !ok {
		t.Fatalf("expected persisted snapshot, ok=%v err=%v", ok, err)
	}
	if !snapshot.BuyAccepted || !snapshot.SellAccepted {
		t.Fatalf("expected both sides accepted in snapshot, got %+v", snapshot)
	}
}

func TestCycleSkipsWhenBalancesFail(t *testing.T) {
	ledger := &fakeLedger{balancesErr: errors.New("account endpoint down")}
	executor := &fakeExecutor{}
	tm := newTestMetrics()
	s := newTestScheduler(schedulerMarket(), ledger, executor, nil, nil, tm)

	s.runCycle(context.Background())

	if events := executor.recorded(); len(events) != 0 {
		t.Fatalf("expected no venue actions, got %v", events)
	}
	if tm.fetchFailures.value() != 1 {
		t.Fatalf("expected 1 fetch failure, got %d", tm.fetchFailures.value())
	}
	if tm.cyclesSkipped.value() != 1 {
		t.Fatalf("expected 1 skipped cycle, got %d", tm.cyclesSkipped.value())
	}
	if tm.cyclesRun.value() != 0 {
		t.Fatalf("expected no completed cycles, got %d", tm.cyclesRun.value())
	}
	if got := s.machine.Current(); got != StateIdle {
		t.Fatalf("expected idle after abort, got %s", got)
	}
}

func TestSentimentFailureRunsNeutral(t *testing.T) {
	ledger := &fakeLedger{balances: engine.Balances{BaseFree: 500, AssetFree: 5000}}
	executor := &fakeExecutor{}
	tm := newTestMetrics()
	sentiment := &fakeSentiment{err: errors.New("feed timeout")}
	s := newTestScheduler(schedulerMarket(), ledger, executor, sentiment, nil, tm)

	s.runCycle(context.Background())

	if events := executor.recorded(); len(events) != 2 {
		t.Fatalf("expected neutral cycle to place both sides, got %v", events)
	}
	if tm.cyclesRun.value() != 1 {
		t.Fatalf("expected cycle to complete, got %d", tm.cyclesRun.value())
	}
}

func TestReplaceCancelsBeforePlacing(t *testing.T) {
	ledger := &fakeLedger{
		balances: engine.Balances{BaseFree: 500},
		open:     []engine.Order{{ID: "stale", Side: engine.SideBuy, Price: 0.090, Amount: 100}},
		closed:   []engine.Order{{ID: "filled", Side: engine.SideSell, Price: 0.12, Amount: 100, Status: "FILLED"}},
	}
	executor := &fakeExecutor{}
	tm := newTestMetrics()
	s := newTestScheduler(schedulerMarket(), ledger, executor, nil, nil, tm)

	s.runCycle(context.Background())

	events := executor.recorded()
	if len(events) != 2 {
		t.Fatalf("expected cancel then place, got %v", events)
	}
	if events[0] != "cancel:stale" {
		t.Fatalf("expected cancel before place, got %v", events)
	}
	if events[1] != "place:buy" {
		t.Fatalf("expected buy placement after cancel, got %v", events)
	}
}

func TestCancelFailureIsolatesSides(t *testing.T) {
	ledger := &fakeLedger{
		balances: engine.Balances{BaseFree: 500, AssetFree: 5000},
		open:     []engine.Order{{ID: "stale", Side: engine.SideBuy, Price: 0.090, Amount: 100}},
		closed:   []engine.Order{{ID: "filled", Side: engine.SideSell, Price: 0.12, Amount: 100, Status: "FILLED"}},
	}
	executor := &fakeExecutor{cancelErr: errors.New("order gone")}
	tm := newTestMetrics()
	s := newTestScheduler(schedulerMarket(), ledger, executor, nil, nil, tm)

	s.runCycle(context.Background())

	events := executor.recorded()
	if len(events) != 1 || events[0] != "place:sell" {
		t.Fatalf("expected only the sell side to act, got %v", events)
	}
	if tm.cyclesRun.value() != 1 {
		t.Fatalf("expected cycle to complete despite cancel failure, got %d", tm.cyclesRun.value())
	}
}

func TestSkipsWhenBothSidesRestingAndReplaceDisabled(t *testing.T) {
	market := schedulerMarket()
	off := false
	market.BuyReplace = &off
	ledger := &fakeLedger{
		balances: engine.Balances{BaseFree: 500, AssetFree: 5000},
		open: []engine.Order{
			{ID: "b1", Side: engine.SideBuy, Price: 0.095, Amount: 100},
			{ID: "s1", Side: engine.SideSell, Price: 0.11, Amount: 100},
		},
	}
	executor := &fakeExecutor{}
	tm := newTestMetrics()
	s := newTestScheduler(market, ledger, executor, nil, nil, tm)

	s.runCycle(context.Background())

	if events := executor.recorded(); len(events) != 0 {
		t.Fatalf("expected no venue actions when pinned, got %v", events)
	}
	if tm.cyclesSkipped.value() != 1 {
		t.Fatalf("expected skipped cycle, got %d", tm.cyclesSkipped.value())
	}
	if got := s.machine.Current(); got != StateIdle {
		t.Fatalf("expected idle after skip, got %s", got)
	}
}

func TestPlacementFailureSendsAlert(t *testing.T) {
	ledger := &fakeLedger{balances: engine.Balances{BaseFree: 500}}
	executor := &fakeExecutor{placeErr: errors.New("venue rejected")}
	tm := newTestMetrics()
	s := newTestScheduler(schedulerMarket(), ledger, executor, nil, nil, tm)
	var messages []string
	var mu sync.Mutex
	s.deps.Alerts = notifierFunc(func(ctx context.Context, message string) error {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, message)
		return nil
	})

	s.runCycle(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(messages) == 0 {
		t.Fatalf("expected an alert on placement failure")
	}
	if !strings.Contains(messages[0], "placement failed") {
		t.Fatalf("unexpected alert text: %q", messages[0])
	}
}

type notifierFunc func(ctx context.Context, message string) error

func (f notifierFunc) Send(ctx context.Context, message string) error {
	return f(ctx, message)
}
