// Package engine computes the per-cycle buy and sell order candidates and
// decides whether each should replace, skip, or leave alone the orders
// currently resting on the venue. All functions are pure: same CycleContext,
// same output.
package engine

import (
	"math"

	"spread-bot/internal/config"
)

// ComputeBuyCandidate prices a buy below the current bid by the configured
// spread, widened by sentiment volatility when available, and sizes it from
// the allocated share of the free base balance scaled by the correlation
// impact.
func ComputeBuyCandidate(ctx CycleContext) Candidate {
	m := ctx.Market
	if ctx.Price.Bid <= 0 {
		return Candidate{Side: SideBuy}
	}
	drop := m.BuySpread
	if ctx.Sentiment != nil {
		drop = (m.BuySpread + ctx.Sentiment.Volatility) / 2
	}
	price := ctx.Price.Bid * (1 - drop)
	impact := 1.0
	if ctx.Sentiment != nil {
		impact = ctx.Sentiment.CorrelationRank / m.CorrelationStandpoint
	}
	volume := (ctx.Balances.BaseFree * m.BuyAllocation / ctx.Price.Bid) * impact
	return Candidate{
		Side:     SideBuy,
		Price:    price,
		Volume:   volume,
		Notional: volume * price,
	}
}

// ComputeSellCandidate mirrors the buy side on the ask with the inverse
// correlation impact: a rank above the standpoint grows the buy and shrinks
// the sell. The asymmetry is intentional.
func ComputeSellCandidate(ctx CycleContext) Candidate {
	m := ctx.Market
	if ctx.Price.Ask <= 0 {
		return Candidate{Side: SideSell}
	}
	rise := m.SellSpread
	if ctx.Sentiment != nil {
		rise = (m.SellSpread + ctx.Sentiment.Volatility) / 2
	}
	price := ctx.Price.Ask * (1 + rise)
	impact := 1.0
	if ctx.Sentiment != nil {
		impact = 1 / (ctx.Sentiment.CorrelationRank / m.CorrelationStandpoint)
	}
	volume := ctx.Balances.AssetFree * m.SellAllocation * impact
	return Candidate{
		Side:     SideSell,
		Price:    price,
		Volume:   volume,
		Notional: volume * price,
	}
}

// Decide applies the acceptance rules for one candidate: minimum notional,
// no crossing against the opposite resting order, and at most one resting
// order per side unless the side's replace policy fires.
func Decide(c Candidate, ctx CycleContext) Verdict {
	m := ctx.Market
	if c.Notional < m.MinOrderNotional {
		return Verdict{Reason: "notional below minimum"}
	}
	if opposite := ctx.Ledger.OpenOrder(c.Side.Opposite()); opposite != nil && crosses(c, *opposite) {
		return Verdict{Reason: "would cross resting " + string(opposite.Side)}
	}
	same := ctx.Ledger.OpenOrder(c.Side)
	if same == nil {
		return Verdict{Accept: true, Reason: "no resting " + string(c.Side)}
	}
	if replaceEnabled(m, c.Side) && replaceSignal(c, *same, ctx) {
		return Verdict{Accept: true, Reason: "replacing resting " + string(c.Side) + " at new level"}
	}
	return Verdict{Reason: string(c.Side) + " order still open"}
}

// crosses reports whether submitting the candidate would immediately match
// the opposite resting order. Equal prices count as crossing.
func crosses(c Candidate, opposite Order) bool {
	if c.Side == SideBuy {
		return c.Price >= opposite.Price
	}
	return c.Price <= opposite.Price
}

func replaceEnabled(m config.MarketConfig, side Side) bool {
	if side == SideBuy {
		return m.BuyReplaceEnabled()
	}
	return m.SellReplaceEnabled()
}

// replaceSignal fires when the most recent closed order is on the opposite
// side and both the move since that fill and the distance to the resting
// order strictly exceed the side's spread. That chases a fresh buy level
// after a profitable sell (and vice versa) instead of sitting on a stale
// order.
func replaceSignal(c Candidate, resting Order, ctx CycleContext) bool {
	last := ctx.Ledger.LastClosed()
	if last == nil || last.Side != c.Side.Opposite() || c.Price == 0 {
		return false
	}
	spread := ctx.Market.BuySpread
	fillDelta := (last.Price - c.Price) / c.Price
	if c.Side == SideSell {
		spread = ctx.Market.SellSpread
		fillDelta = (c.Price - last.Price) / c.Price
	}
	restingDelta := math.Abs((c.Price - resting.Price) / c.Price)
	return fillDelta > spread && restingDelta > spread
}
