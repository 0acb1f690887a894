package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gridsentinel/internal/types"
	"gridsentinel/internal/venue"
)

// fakeAdapter is a minimal venue.Adapter test double: each mutating call
// records what it was asked to do so assertions can inspect intent instead
// of re-deriving venue wire shapes.
type fakeAdapter struct {
	markPrice    decimal.Decimal
	markPriceErr error
	filters      venue.Filters
	klines       []venue.Candle
	openOrders   []venue.Order
	openOrdersErr error
	positions    []venue.Position
	positionsErr error

	placeLimitErr error
	placedLimits  []venue.Order
	nextOrderID   int64

	marketCloses []marketCall
	cancelAllCalled bool
}

type marketCall struct {
	side types.Side
	qty  string
}

func (f *fakeAdapter) ServerTime(context.Context) (time.Time, error) { return time.Now(), nil }

func (f *fakeAdapter) MarkPrice(context.Context, string, types.WorkingType) (decimal.Decimal, error) {
	return f.markPrice, f.markPriceErr
}

func (f *fakeAdapter) Filters(context.Context, string) (venue.Filters, error) {
	return f.filters, nil
}

func (f *fakeAdapter) Klines(context.Context, string, string, int) ([]venue.Candle, error) {
	return f.klines, nil
}

func (f *fakeAdapter) OpenOrders(context.Context, string) ([]venue.Order, error) {
	return f.openOrders, f.openOrdersErr
}

func (f *fakeAdapter) OpenPositions(context.Context, string) ([]venue.Position, error) {
	return f.positions, f.positionsErr
}

func (f *fakeAdapter) PlaceLimit(_ context.Context, _ string, side types.Side, qty, price string, _ bool) (venue.PlacedOrder, error) {
	if f.placeLimitErr != nil {
		return venue.PlacedOrder{}, f.placeLimitErr
	}
	f.nextOrderID++
	p, _ := decimal.NewFromString(price)
	q, _ := decimal.NewFromString(qty)
	f.placedLimits = append(f.placedLimits, venue.Order{OrderID: f.nextOrderID, Side: side, Price: p, Quantity: q, Kind: types.KindLimit})
	return venue.PlacedOrder{OrderID: f.nextOrderID}, nil
}

func (f *fakeAdapter) PlaceStopMarket(_ context.Context, _ string, side types.Side, qty, stop string, _ types.WorkingType) (venue.PlacedOrder, error) {
	f.nextOrderID++
	p, _ := decimal.NewFromString(stop)
	q, _ := decimal.NewFromString(qty)
	f.placedLimits = append(f.placedLimits, venue.Order{OrderID: f.nextOrderID, Side: side, Price: p, StopPrice: p, Quantity: q, Kind: types.KindStopMarket})
	return venue.PlacedOrder{OrderID: f.nextOrderID}, nil
}

func (f *fakeAdapter) PlaceMarket(_ context.Context, _ string, side types.Side, qty string) (venue.PlacedOrder, error) {
	f.marketCloses = append(f.marketCloses, marketCall{side: side, qty: qty})
	return venue.PlacedOrder{OrderID: 999}, nil
}

func (f *fakeAdapter) PlaceTrailingStop(context.Context, string, types.Side, string, decimal.Decimal, types.WorkingType) (venue.PlacedOrder, error) {
	return venue.PlacedOrder{OrderID: 1000}, nil
}

func (f *fakeAdapter) CancelAll(context.Context, string) error {
	f.cancelAllCalled = true
	return nil
}

func (f *fakeAdapter) SetLeverage(context.Context, string, int) error { return nil }
func (f *fakeAdapter) SetMarginType(context.Context, string, string) error { return nil }
