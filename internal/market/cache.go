package market

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TopOfBook is the latest best bid/ask seen on the stream for one symbol.
type TopOfBook struct {
	Bid float64
	Ask float64
	At  time.Time
}

// Cache holds stream-fed top-of-book quotes and expires them after maxAge,
// so a silent stream degrades to the REST fallback instead of serving stale
// prices.
type Cache struct {
	mu     sync.RWMutex
	books  map[string]TopOfBook
	maxAge time.Duration
	now    func() time.Time
}

func NewCache(maxAge time.Duration) *Cache {
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	return &Cache{
		books:  make(map[string]TopOfBook),
		maxAge: maxAge,
		now:    time.Now,
	}
}

func (c *Cache) Update(symbol string, bid, ask float64) {
	if bid <= 0 || ask <= 0 {
		return
	}
	c.mu.Lock()
	c.books[strings.ToUpper(symbol)] = TopOfBook{Bid: bid, Ask: ask, At: c.now()}
	c.mu.Unlock()
}

// Top returns the cached quote if it is fresh enough to act on.
func (c *Cache) Top(symbol string) (TopOfBook, bool) {
	c.mu.RLock()
	top, ok := c.books[strings.ToUpper(symbol)]
	c.mu.RUnlock()
	if !ok || c.now().Sub(top.At) > c.maxAge {
		return TopOfBook{}, false
	}
	return top, true
}

type bookTickerEvent struct {
	Symbol string `json:"s"`
	Bid    string `json:"b"`
	Ask    string `json:"a"`
}

// HandleMessage feeds one raw stream message into the cache. Non-ticker
// messages (subscription acks etc.) are ignored.
func (c *Cache) HandleMessage(raw json.RawMessage) {
	var ev bookTickerEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Symbol == "" {
		return
	}
	bid, err := strconv.ParseFloat(ev.Bid, 64)
	if err != nil {
		return
	}
	ask, err := strconv.ParseFloat(ev.Ask, 64)
	if err != nil {
		return
	}
	c.Update(ev.Symbol, bid, ask)
}
