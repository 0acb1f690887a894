// Package venue is the Venue Adapter (C1): signed request primitives and
// typed views over server time, market price, exchange filters, open
// orders/positions, and kline history. Pure I/O; no grid policy lives here.
//
// Grounded on execution_service.go's NewExecutionService/FetchExchangeInfo
// (go-binance/v2/futures client construction and exchange-info caching) and
// on the call sites cataloged across execution_service.go/trend_analyzer.go
// for each operation below.
package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"gridsentinel/internal/types"
)

// Filters are the tick/step exchange quanta for one symbol.
type Filters struct {
	TickSize decimal.Decimal
	StepSize decimal.Decimal
}

// Candle is one kline's close/high/low, the only fields the Volatility
// Analyzer needs.
type Candle struct {
	OpenTime time.Time
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
}

// Order is the remote order shape spec §3 describes, opaque beyond these
// fields.
type Order struct {
	OrderID    int64
	Side       types.Side
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Kind       types.OrderKind
	StopPrice  decimal.Decimal
}

// Position is the remote position shape spec §3 describes.
type Position struct {
	Symbol     string
	Amount     decimal.Decimal // signed: positive=long, negative=short, zero=flat
	EntryPrice decimal.Decimal
}

// PlacedOrder is returned by every mutating call on success.
type PlacedOrder struct {
	OrderID int64
}

// Adapter is the narrow contract the rest of the engine depends on, so
// Reconciler/Breakout/Supervisor can be tested against a fake.
type Adapter interface {
	ServerTime(ctx context.Context) (time.Time, error)
	MarkPrice(ctx context.Context, symbol string, working types.WorkingType) (decimal.Decimal, error)
	Filters(ctx context.Context, symbol string) (Filters, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
	OpenPositions(ctx context.Context, symbol string) ([]Position, error)

	PlaceLimit(ctx context.Context, symbol string, side types.Side, qty, price string, reduceOnly bool) (PlacedOrder, error)
	PlaceStopMarket(ctx context.Context, symbol string, side types.Side, qty, stop string, working types.WorkingType) (PlacedOrder, error)
	PlaceMarket(ctx context.Context, symbol string, side types.Side, qty string) (PlacedOrder, error)
	PlaceTrailingStop(ctx context.Context, symbol string, side types.Side, qty string, callbackRate decimal.Decimal, working types.WorkingType) (PlacedOrder, error)
	CancelAll(ctx context.Context, symbol string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol string, marginType string) error
}

// Client wraps *futures.Client, the same construction the teacher's
// NewExecutionService performs (binance.NewFuturesClient, with
// futures.UseTestnet toggled from config).
type Client struct {
	raw  *futures.Client
	feed *PriceFeed // optional: set via SetPriceFeed, preferred when working=CONTRACT

	mu      sync.RWMutex
	filters map[string]Filters
}

// NewClient builds a venue Client. testnet mirrors the teacher's
// `futures.UseTestnet = true` toggle.
func NewClient(apiKey, apiSecret string, testnet bool) *Client {
	futures.UseTestnet = testnet
	return &Client{
		raw:     futures.NewClient(apiKey, apiSecret),
		filters: make(map[string]Filters),
	}
}

// SetPriceFeed wires a websocket-backed PriceFeed, preferred over REST for
// the CONTRACT working type per spec §4.7 step 1 ("prefer WS last trade,
// fall back to REST mark").
func (c *Client) SetPriceFeed(feed *PriceFeed) { c.feed = feed }

func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	ms, err := c.raw.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

func (c *Client) MarkPrice(ctx context.Context, symbol string, working types.WorkingType) (decimal.Decimal, error) {
	if working != types.WorkingMark && c.feed != nil {
		if p, ok := c.feed.Load(symbol); ok {
			return p, nil
		}
	}
	if working == types.WorkingMark {
		prices, err := c.raw.NewPremiumIndexService().Symbol(symbol).Do(ctx)
		if err != nil {
			return decimal.Decimal{}, err
		}
		if len(prices) == 0 {
			return decimal.Decimal{}, fmt.Errorf("venue: no mark price for %s", symbol)
		}
		return decimal.NewFromString(prices[0].MarkPrice)
	}
	ticker, err := c.raw.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(ticker) == 0 {
		return decimal.Decimal{}, fmt.Errorf("venue: no ticker price for %s", symbol)
	}
	return decimal.NewFromString(ticker[0].Price)
}

// Filters fetches and caches tick/step per symbol, matching the teacher's
// FetchExchangeInfo/symbolInfo pattern.
func (c *Client) Filters(ctx context.Context, symbol string) (Filters, error) {
	c.mu.RLock()
	f, ok := c.filters[symbol]
	c.mu.RUnlock()
	if ok {
		return f, nil
	}

	info, err := c.raw.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return Filters{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		tick := decimal.New(1, -2)
		step := decimal.New(1, -3)
		for _, flt := range s.Filters {
			if flt["filterType"] == "PRICE_FILTER" {
				if v, ok := flt["tickSize"].(string); ok {
					if d, err := decimal.NewFromString(v); err == nil {
						tick = d
					}
				}
			}
			if flt["filterType"] == "LOT_SIZE" {
				if v, ok := flt["stepSize"].(string); ok {
					if d, err := decimal.NewFromString(v); err == nil {
						step = d
					}
				}
			}
		}
		c.filters[s.Symbol] = Filters{TickSize: tick, StepSize: step}
	}

	f, ok = c.filters[symbol]
	if !ok {
		return Filters{}, fmt.Errorf("venue: unknown symbol %s", symbol)
	}
	return f, nil
}

func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	raw, err := c.raw.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Candle, 0, len(raw))
	for _, k := range raw {
		high, err := decimal.NewFromString(k.High)
		if err != nil {
			return nil, err
		}
		low, err := decimal.NewFromString(k.Low)
		if err != nil {
			return nil, err
		}
		closeP, err := decimal.NewFromString(k.Close)
		if err != nil {
			return nil, err
		}
		out = append(out, Candle{
			OpenTime: time.UnixMilli(k.OpenTime),
			High:     high,
			Low:      low,
			Close:    closeP,
		})
	}
	return out, nil
}

func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	raw, err := c.raw.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Order, 0, len(raw))
	for _, o := range raw {
		price, _ := decimal.NewFromString(o.Price)
		qty, _ := decimal.NewFromString(o.OrigQuantity)
		stop, _ := decimal.NewFromString(o.StopPrice)
		out = append(out, Order{
			OrderID:   o.OrderID,
			Side:      types.Side(o.Side),
			Price:     price,
			Quantity:  qty,
			Kind:      types.OrderKind(o.Type),
			StopPrice: stop,
		})
	}
	return out, nil
}

func (c *Client) OpenPositions(ctx context.Context, symbol string) ([]Position, error) {
	raw, err := c.raw.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(raw))
	for _, p := range raw {
		amt, _ := decimal.NewFromString(p.PositionAmt)
		entry, _ := decimal.NewFromString(p.EntryPrice)
		out = append(out, Position{Symbol: p.Symbol, Amount: amt, EntryPrice: entry})
	}
	return out, nil
}

func (c *Client) PlaceLimit(ctx context.Context, symbol string, side types.Side, qty, price string, reduceOnly bool) (PlacedOrder, error) {
	res, err := c.raw.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(qty).
		Price(price).
		ReduceOnly(reduceOnly).
		Do(ctx)
	if err != nil {
		return PlacedOrder{}, err
	}
	return PlacedOrder{OrderID: res.OrderID}, nil
}

func (c *Client) PlaceStopMarket(ctx context.Context, symbol string, side types.Side, qty, stop string, working types.WorkingType) (PlacedOrder, error) {
	res, err := c.raw.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeStopMarket).
		StopPrice(stop).
		Quantity(qty).
		WorkingType(futures.WorkingType(working)).
		Do(ctx)
	if err != nil {
		return PlacedOrder{}, err
	}
	return PlacedOrder{OrderID: res.OrderID}, nil
}

func (c *Client) PlaceMarket(ctx context.Context, symbol string, side types.Side, qty string) (PlacedOrder, error) {
	res, err := c.raw.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		Do(ctx)
	if err != nil {
		return PlacedOrder{}, err
	}
	return PlacedOrder{OrderID: res.OrderID}, nil
}

func (c *Client) PlaceTrailingStop(ctx context.Context, symbol string, side types.Side, qty string, callbackRate decimal.Decimal, working types.WorkingType) (PlacedOrder, error) {
	res, err := c.raw.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeTrailingStopMarket).
		Quantity(qty).
		CallbackRate(callbackRate.StringFixed(1)).
		WorkingType(futures.WorkingType(working)).
		Do(ctx)
	if err != nil {
		return PlacedOrder{}, err
	}
	return PlacedOrder{OrderID: res.OrderID}, nil
}

func (c *Client) CancelAll(ctx context.Context, symbol string) error {
	return c.raw.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx)
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.raw.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	return err
}

func (c *Client) SetMarginType(ctx context.Context, symbol string, marginType string) error {
	err := c.raw.NewChangeMarginTypeService().Symbol(symbol).MarginType(futures.MarginType(marginType)).Do(ctx)
	if err != nil && isAlreadySet(err) {
		return nil
	}
	return err
}

func isAlreadySet(err error) bool {
	cls, ok := Classify(err)
	return ok && cls == Unknown && containsCode(err, -4046)
}

func containsCode(err error, code int64) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Code == code
}

func asAPIError(err error) (*futures.APIError, bool) {
	apiErr, ok := err.(*futures.APIError)
	return apiErr, ok
}
