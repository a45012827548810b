// Package exchange implements the trading venue client: balance, ticker and
// order-ledger reads plus limit order create/cancel, over a signed
// Binance-style spot REST API.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"spread-bot/internal/config"
	"spread-bot/internal/engine"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Client struct {
	baseURL    string
	http       *http.Client
	signer     *Signer
	limiter    *rate.Limiter
	recvWindow time.Duration
	log        *zap.Logger
	now        func() time.Time
}

func New(cfg config.ExchangeConfig, signer *Signer, log *zap.Logger) *Client {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = int(cfg.RatePerSec)
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		http:       &http.Client{Timeout: cfg.Timeout},
		signer:     signer,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
		recvWindow: cfg.RecvWindow,
		log:        log,
		now:        time.Now,
	}
}

// FetchBalances returns the free base and asset funds for a market.
func (c *Client) FetchBalances(ctx context.Context, market config.MarketConfig) (engine.Balances, error) {
	var resp struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := c.signedCall(ctx, http.MethodGet, "/api/v3/account", nil, &resp); err != nil {
		return engine.Balances{}, err
	}
	var out engine.Balances
	for _, b := range resp.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			continue
		}
		switch b.Asset {
		case market.Base.Symbol:
			out.BaseFree = free
		case market.Asset.Symbol:
			out.AssetFree = free
		}
	}
	return out, nil
}

// FetchTicker returns the venue's current best bid/ask and last trade price.
func (c *Client) FetchTicker(ctx context.Context, market config.MarketConfig) (engine.PriceSnapshot, error) {
	symbol := market.PairSymbol()
	var book struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	params := url.Values{"symbol": {symbol}}
	if err := c.publicCall(ctx, "/api/v3/ticker/bookTicker", params, &book); err != nil {
		return engine.PriceSnapshot{}, err
	}
	var last struct {
		Price string `json:"price"`
	}
	if err := c.publicCall(ctx, "/api/v3/ticker/price", params, &last); err != nil {
		return engine.PriceSnapshot{}, err
	}
	snap := engine.PriceSnapshot{
		Bid:  parseFloat(book.BidPrice),
		Ask:  parseFloat(book.AskPrice),
		Last: parseFloat(last.Price),
	}
	return snap, nil
}

// OpenOrders returns the market's resting orders.
func (c *Client) OpenOrders(ctx context.Context, market config.MarketConfig) ([]engine.Order, error) {
	var resp []wireOrder
	params := url.Values{"symbol": {market.PairSymbol()}}
	if err := c.signedCall(ctx, http.MethodGet, "/api/v3/openOrders", params, &resp); err != nil {
		return nil, err
	}
	orders := make([]engine.Order, 0, len(resp))
	for _, o := range resp {
		orders = append(orders, o.toOrder())
	}
	return orders, nil
}

// ClosedOrders returns filled orders since the given time, oldest first.
func (c *Client) ClosedOrders(ctx context.Context, market config.MarketConfig, since time.Time) ([]engine.Order, error) {
	var resp []wireOrder
	params := url.Values{
		"symbol":    {market.PairSymbol()},
		"startTime": {strconv.FormatInt(since.UnixMilli(), 10)},
	}
	if err := c.signedCall(ctx, http.MethodGet, "/api/v3/allOrders", params, &resp); err != nil {
		return nil, err
	}
	sort.SliceStable(resp, func(i, j int) bool {
		return resp[i].UpdateTime < resp[j].UpdateTime
	})
	orders := make([]engine.Order, 0, len(resp))
	for _, o := range resp {
		if o.Status != "FILLED" {
			continue
		}
		orders = append(orders, o.toOrder())
	}
	return orders, nil
}

// CancelOrder cancels a resting order by id.
func (c *Client) CancelOrder(ctx context.Context, market config.MarketConfig, orderID string) error {
	params := url.Values{
		"symbol":  {market.PairSymbol()},
		"orderId": {orderID},
	}
	return c.signedCall(ctx, http.MethodDelete, "/api/v3/order", params, nil)
}

// CreateLimitOrder submits a good-til-canceled limit order and returns the
// venue's view of it.
func (c *Client) CreateLimitOrder(ctx context.Context, market config.MarketConfig, side engine.Side, volume, price float64, clientOrderID string) (engine.Order, error) {
	params := url.Values{
		"symbol":      {market.PairSymbol()},
		"side":        {strings.ToUpper(string(side))},
		"type":        {"LIMIT"},
		"timeInForce": {"GTC"},
		"quantity":    {formatDecimal(volume)},
		"price":       {formatDecimal(price)},
	}
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}
	var resp wireOrder
	if err := c.signedCall(ctx, http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return engine.Order{}, err
	}
	order := resp.toOrder()
	if order.Price == 0 {
		order.Price = price
	}
	if order.Amount == 0 {
		order.Amount = volume
	}
	return order, nil
}

type wireOrder struct {
	OrderID    int64  `json:"orderId"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	OrigQty    string `json:"origQty"`
	Status     string `json:"status"`
	UpdateTime int64  `json:"updateTime"`
}

func (w wireOrder) toOrder() engine.Order {
	side := engine.SideBuy
	if strings.EqualFold(w.Side, "SELL") {
		side = engine.SideSell
	}
	return engine.Order{
		ID:     strconv.FormatInt(w.OrderID, 10),
		Side:   side,
		Price:  parseFloat(w.Price),
		Amount: parseFloat(w.OrigQty),
		Status: w.Status,
	}
}

func (c *Client) publicCall(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) signedCall(ctx context.Context, method, path string, params url.Values, out any) error {
	if c.signer == nil {
		return fmt.Errorf("%s %s: signed call requires api credentials", method, path)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
	query := params.Encode()
	query += "&signature=" + c.signer.Sign(query)
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.signer.APIKey())
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
