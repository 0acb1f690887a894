package breakout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gridsentinel/internal/types"
	"gridsentinel/internal/venue"
)

type fakeAdapter struct {
	positions []venue.Position

	marketCalls   []marketCall
	trailingErr   error
	trailingCalls int
}

type marketCall struct {
	side types.Side
	qty  string
}

func (f *fakeAdapter) ServerTime(context.Context) (time.Time, error) { return time.Now(), nil }

func (f *fakeAdapter) MarkPrice(context.Context, string, types.WorkingType) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeAdapter) Filters(context.Context, string) (venue.Filters, error) { return venue.Filters{}, nil }

func (f *fakeAdapter) Klines(context.Context, string, string, int) ([]venue.Candle, error) {
	return nil, nil
}

func (f *fakeAdapter) OpenOrders(context.Context, string) ([]venue.Order, error) { return nil, nil }

func (f *fakeAdapter) OpenPositions(context.Context, string) ([]venue.Position, error) {
	return f.positions, nil
}

func (f *fakeAdapter) PlaceLimit(context.Context, string, types.Side, string, string, bool) (venue.PlacedOrder, error) {
	return venue.PlacedOrder{}, nil
}

func (f *fakeAdapter) PlaceStopMarket(context.Context, string, types.Side, string, string, types.WorkingType) (venue.PlacedOrder, error) {
	return venue.PlacedOrder{}, nil
}

func (f *fakeAdapter) PlaceMarket(_ context.Context, _ string, side types.Side, qty string) (venue.PlacedOrder, error) {
	f.marketCalls = append(f.marketCalls, marketCall{side: side, qty: qty})
	return venue.PlacedOrder{OrderID: 1}, nil
}

func (f *fakeAdapter) PlaceTrailingStop(context.Context, string, types.Side, string, decimal.Decimal, types.WorkingType) (venue.PlacedOrder, error) {
	f.trailingCalls++
	if f.trailingErr != nil {
		return venue.PlacedOrder{}, f.trailingErr
	}
	return venue.PlacedOrder{OrderID: 2}, nil
}

func (f *fakeAdapter) CancelAll(context.Context, string) error { return nil }

func (f *fakeAdapter) SetLeverage(context.Context, string, int) error { return nil }
func (f *fakeAdapter) SetMarginType(context.Context, string, string) error { return nil }
