// Package exec performs the venue mutations a cycle decided on, gated by
// the configured trading mode. Dry-run mode logs the exact call it would
// have made and touches nothing.
package exec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spread-bot/internal/config"
	"spread-bot/internal/engine"
	"spread-bot/internal/metrics"
	"spread-bot/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Venue interface {
	CancelOrder(ctx context.Context, market config.MarketConfig, orderID string) error
	CreateLimitOrder(ctx context.Context, market config.MarketConfig, side engine.Side, volume, price float64, clientOrderID string) (engine.Order, error)
}

type Executor struct {
	venue   Venue
	mode    config.TradingMode
	store   state.Store
	metrics *metrics.Metrics
	log     *zap.Logger
	newID   func() string
}

func New(venue Venue, mode config.TradingMode, store state.Store, m *metrics.Metrics, log *zap.Logger) *Executor {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Executor{
		venue:   venue,
		mode:    mode,
		store:   store,
		metrics: m,
		log:     log,
		newID:   func() string { return "spread-" + uuid.NewString() },
	}
}

// Place submits an accepted candidate as a limit order. The client order id
// is fixed before the first attempt so retries after ambiguous network
// failures cannot double-submit. Returns nil in dry-run mode.
func (e *Executor) Place(ctx context.Context, market config.MarketConfig, c engine.Candidate) (*engine.Order, error) {
	if c.Volume <= 0 || c.Price <= 0 {
		return nil, errors.New("candidate volume and price must be positive")
	}
	fields := []zap.Field{
		zap.String("market", market.Name()),
		zap.String("side", string(c.Side)),
		zap.Float64("volume", c.Volume),
		zap.Float64("price", c.Price),
		zap.Float64("notional", c.Notional),
	}
	if e.mode != config.ModeLive {
		e.log.Info("dry-run: would place limit order", fields...)
		return nil, nil
	}
	clientOrderID := e.newID()
	var order engine.Order
	err := e.retry(ctx, func() error {
		var err error
		order, err = e.venue.CreateLimitOrder(ctx, market, c.Side, c.Volume, c.Price, clientOrderID)
		return err
	})
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		return nil, err
	}
	e.metrics.OrdersPlaced.Inc()
	e.log.Info("placed limit order", append(fields, zap.String("order_id", order.ID))...)
	if e.store != nil {
		if err := e.store.Set(ctx, "cloid:"+clientOrderID, order.ID); err != nil {
			e.log.Warn("failed to persist order id", zap.Error(err))
		}
	}
	return &order, nil
}

// Cancel removes a resting order. Missing-order failures are surfaced to
// the caller; the next cycle re-reads the ledger either way.
func (e *Executor) Cancel(ctx context.Context, market config.MarketConfig, order engine.Order) error {
	fields := []zap.Field{
		zap.String("market", market.Name()),
		zap.String("order_id", order.ID),
		zap.String("side", string(order.Side)),
		zap.Float64("price", order.Price),
	}
	if e.mode != config.ModeLive {
		e.log.Info("dry-run: would cancel order", fields...)
		return nil
	}
	err := e.retry(ctx, func() error {
		return e.venue.CancelOrder(ctx, market, order.ID)
	})
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		return err
	}
	e.metrics.OrdersCanceled.Inc()
	e.log.Info("canceled order", fields...)
	return nil
}

func (e *Executor) retry(ctx context.Context, fn func() error) error {
	backoff := 200 * time.Millisecond
	for attempt := 0; attempt < 3; attempt++ {
		if err := fn(); err != nil {
			if attempt == 2 {
				return fmt.Errorf("retry failed: %w", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
			continue
		}
		return nil
	}
	return nil
}
