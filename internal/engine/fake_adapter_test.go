package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gridsentinel/internal/types"
	"gridsentinel/internal/venue"
)

type fakeAdapter struct {
	openOrders []venue.Order
	klines     []venue.Candle

	leverageCalls   int
	marginTypeCalls int
}

func (f *fakeAdapter) ServerTime(context.Context) (time.Time, error) { return time.Now(), nil }

func (f *fakeAdapter) MarkPrice(context.Context, string, types.WorkingType) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeAdapter) Filters(context.Context, string) (venue.Filters, error) { return venue.Filters{}, nil }

func (f *fakeAdapter) Klines(context.Context, string, string, int) ([]venue.Candle, error) {
	return f.klines, nil
}

func (f *fakeAdapter) OpenOrders(context.Context, string) ([]venue.Order, error) {
	return f.openOrders, nil
}

func (f *fakeAdapter) OpenPositions(context.Context, string) ([]venue.Position, error) { return nil, nil }

func (f *fakeAdapter) PlaceLimit(context.Context, string, types.Side, string, string, bool) (venue.PlacedOrder, error) {
	return venue.PlacedOrder{}, nil
}

func (f *fakeAdapter) PlaceStopMarket(context.Context, string, types.Side, string, string, types.WorkingType) (venue.PlacedOrder, error) {
	return venue.PlacedOrder{}, nil
}

func (f *fakeAdapter) PlaceMarket(context.Context, string, types.Side, string) (venue.PlacedOrder, error) {
	return venue.PlacedOrder{}, nil
}

func (f *fakeAdapter) PlaceTrailingStop(context.Context, string, types.Side, string, decimal.Decimal, types.WorkingType) (venue.PlacedOrder, error) {
	return venue.PlacedOrder{}, nil
}

func (f *fakeAdapter) CancelAll(context.Context, string) error { return nil }

func (f *fakeAdapter) SetLeverage(context.Context, string, int) error {
	f.leverageCalls++
	return nil
}

func (f *fakeAdapter) SetMarginType(context.Context, string, string) error {
	f.marginTypeCalls++
	return nil
}
