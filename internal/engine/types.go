package engine

import "spread-bot/internal/config"

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other order side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PriceSnapshot is the reference price at cycle start, in base units per
// asset unit.
type PriceSnapshot struct {
	Bid  float64
	Ask  float64
	Last float64
}

// Balances is a point-in-time read of free funds; fills landing mid-cycle
// are picked up on the next tick.
type Balances struct {
	BaseFree  float64
	AssetFree float64
}

// Sentiment carries the optional social scoring inputs. A nil *Sentiment
// means the feed was unavailable and the engine runs neutral.
type Sentiment struct {
	Volatility      float64
	CorrelationRank float64
}

type Order struct {
	ID     string
	Side   Side
	Price  float64
	Amount float64
	Status string
}

// Notional is the order's value in base currency.
func (o Order) Notional() float64 {
	return o.Amount * o.Price
}

// LedgerSnapshot is the venue's view of this market's orders at cycle
// start. Closed is ordered oldest to newest within the lookback window.
type LedgerSnapshot struct {
	Open   []Order
	Closed []Order
}

// OpenOrder returns the resting order for a side, or nil. The venue should
// only ever hold one per side; if an external actor placed more, the first
// one wins and the cycle reconciles from there.
func (l LedgerSnapshot) OpenOrder(side Side) *Order {
	for i := range l.Open {
		if l.Open[i].Side == side {
			return &l.Open[i]
		}
	}
	return nil
}

// LastClosed returns the most recent closed order, or nil.
func (l LedgerSnapshot) LastClosed() *Order {
	if len(l.Closed) == 0 {
		return nil
	}
	return &l.Closed[len(l.Closed)-1]
}

// Candidate is a computed, not-yet-submitted order proposal. It lives for
// one cycle: either it becomes a venue order or it is dropped.
type Candidate struct {
	Side     Side
	Price    float64
	Volume   float64
	Notional float64
}

// CycleContext is everything one decision cycle works from, assembled once
// during the fetch phase and passed by value. The engine never reads
// anything outside it.
type CycleContext struct {
	Market    config.MarketConfig
	Price     PriceSnapshot
	Balances  Balances
	Sentiment *Sentiment
	Ledger    LedgerSnapshot
}

// Verdict is the accept/reject outcome for one candidate, with the reason
// used for cycle logging.
type Verdict struct {
	Accept bool
	Reason string
}
