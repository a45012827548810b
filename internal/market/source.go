// Package market resolves the per-cycle reference price: live stream quotes
// when fresh, the venue REST ticker as fallback, and a synthetic cross price
// from the external feed when the venue has no usable quote at all.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"spread-bot/internal/config"
	"spread-bot/internal/engine"
	"spread-bot/internal/exchange/ws"

	"go.uber.org/zap"
)

type Ticker interface {
	FetchTicker(ctx context.Context, market config.MarketConfig) (engine.PriceSnapshot, error)
}

type USDPricer interface {
	USDPrice(ctx context.Context, feedID string) (float64, error)
}

type Source struct {
	cache *Cache
	rest  Ticker
	feed  USDPricer
	log   *zap.Logger
}

func NewSource(cache *Cache, rest Ticker, feed USDPricer, log *zap.Logger) *Source {
	return &Source{cache: cache, rest: rest, feed: feed, log: log}
}

// Snapshot resolves the reference price for one market. Failing everything,
// the cycle has no price and must be skipped.
func (s *Source) Snapshot(ctx context.Context, m config.MarketConfig) (engine.PriceSnapshot, error) {
	if s.cache != nil {
		if top, ok := s.cache.Top(m.PairSymbol()); ok {
			return engine.PriceSnapshot{Bid: top.Bid, Ask: top.Ask, Last: (top.Bid + top.Ask) / 2}, nil
		}
	}
	snap, restErr := s.rest.FetchTicker(ctx, m)
	if restErr == nil {
		if snap.Bid > 0 && snap.Ask > 0 {
			return snap, nil
		}
		// venue returned only a last trade price
		if snap.Last > 0 {
			snap.Bid, snap.Ask = snap.Last, snap.Last
			return snap, nil
		}
	} else {
		s.log.Warn("venue ticker failed", zap.String("market", m.Name()), zap.Error(restErr))
	}
	cross, crossErr := s.crossPrice(ctx, m)
	if crossErr != nil {
		if restErr != nil {
			return engine.PriceSnapshot{}, fmt.Errorf("no reference price: %w", restErr)
		}
		return engine.PriceSnapshot{}, fmt.Errorf("no reference price: %w", crossErr)
	}
	return engine.PriceSnapshot{Bid: cross, Ask: cross, Last: cross}, nil
}

// crossPrice divides the asset's and base's USD feed prices into a
// base-per-asset price.
func (s *Source) crossPrice(ctx context.Context, m config.MarketConfig) (float64, error) {
	if s.feed == nil {
		return 0, errors.New("price feed not configured")
	}
	if m.Asset.FeedID == "" || m.Base.FeedID == "" {
		return 0, errors.New("feed ids not configured for market")
	}
	assetUSD, err := s.feed.USDPrice(ctx, m.Asset.FeedID)
	if err != nil {
		return 0, err
	}
	baseUSD, err := s.feed.USDPrice(ctx, m.Base.FeedID)
	if err != nil {
		return 0, err
	}
	if assetUSD <= 0 || baseUSD <= 0 {
		return 0, errors.New("feed returned non-positive price")
	}
	return assetUSD / baseUSD, nil
}

// Stream pumps the venue's bookTicker streams into the cache.
type Stream struct {
	client *ws.Client
	cache  *Cache
	subs   []string
	log    *zap.Logger
}

func NewStream(client *ws.Client, cache *Cache, markets []config.MarketConfig, log *zap.Logger) *Stream {
	subs := make([]string, 0, len(markets))
	for _, m := range markets {
		subs = append(subs, strings.ToLower(m.PairSymbol())+"@bookTicker")
	}
	return &Stream{client: client, cache: cache, subs: subs, log: log}
}

// Start connects, subscribes and runs the read loop in the background. A
// failed start is non-fatal for the bot: cycles fall back to REST pricing.
func (s *Stream) Start(ctx context.Context) error {
	if err := s.client.Connect(ctx); err != nil {
		return err
	}
	if err := s.client.Subscribe(ctx, map[string]any{
		"method": "SUBSCRIBE",
		"params": s.subs,
		"id":     1,
	}); err != nil {
		return err
	}
	go func() {
		if err := s.client.Run(ctx, s.cache.HandleMessage); err != nil && ctx.Err() == nil {
			s.log.Warn("book ticker stream stopped", zap.Error(err))
		}
	}()
	return nil
}
