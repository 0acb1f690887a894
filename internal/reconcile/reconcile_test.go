package reconcile

import (
	"context"
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"gridsentinel/internal/book"
	"gridsentinel/internal/config"
	"gridsentinel/internal/notify"
	"gridsentinel/internal/state"
	"gridsentinel/internal/types"
	"gridsentinel/internal/venue"
)

func newReconciler(t *testing.T, adapter venue.Adapter) (*Reconciler, *book.Store) {
	t.Helper()
	store, err := book.NewStore(t.TempDir())
	require.NoError(t, err)
	return &Reconciler{
		Adapter:  adapter,
		Store:    store,
		Notifier: notify.NoOp{},
		Limiter:  rate.NewLimiter(rate.Inf, 1),
	}, store
}

func dd(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// Scenario 1 (spec §8): cold start grid creation when remote open_orders is
// empty.
func TestRunCreatesGridWhenNoRemoteOrders(t *testing.T) {
	adapter := &fakeAdapter{
		markPrice: dd(100),
		filters:   venue.Filters{TickSize: dd(0.01), StepSize: dd(0.001)},
	}
	r, store := newReconciler(t, adapter)
	sym := &state.Symbol{}
	cfg := config.SymbolConfig{
		Symbol:            "BTCUSDT",
		GridLevels:        2,
		OrderQuantity:     0.5,
		Mode:              types.ModeNeutral,
		SpacingPercentage: 1, // 1% of 100 = 1
		WorkingType:       types.WorkingContract,
	}

	err := r.Run(context.Background(), cfg, sym)
	require.NoError(t, err)
	require.Len(t, adapter.placedLimits, 4)

	saved := store.Load("BTCUSDT")
	require.Len(t, saved.Orders, 4)
}

// Scenario 3 (spec §8): a filled order is replaced, anchored on the
// position's entry price rather than the filled order's own price.
func TestReplaceAnchorsOnPositionEntryPrice(t *testing.T) {
	adapter := &fakeAdapter{
		positions: []venue.Position{{Symbol: "BTCUSDT", Amount: dd(0.5), EntryPrice: dd(99.2)}},
	}
	r, store := newReconciler(t, adapter)
	sym := &state.Symbol{}
	cfg := config.SymbolConfig{Symbol: "BTCUSDT", Mode: types.ModeNeutral}

	local := book.Book{Orders: []book.Record{
		{OrderID: 1, Side: types.Buy, Price: dd(99), Quantity: dd(0.5)},
	}}

	err := r.replace(context.Background(), cfg, sym, dd(100), venue.Filters{}, dd(1), nil, local)
	require.NoError(t, err)
	require.Len(t, adapter.placedLimits, 1)

	placed := adapter.placedLimits[0]
	require.Equal(t, types.Sell, placed.Side)
	require.True(t, placed.Price.Equal(dd(100.2)), "expected anchor+offset 100.2, got %s", placed.Price)

	saved := store.Load("BTCUSDT")
	require.Len(t, saved.Orders, 1)
}

// When the position is flat after a presumed fill, replace resets instead
// of placing a counter-order.
func TestReplaceResetsWhenPositionFlat(t *testing.T) {
	adapter := &fakeAdapter{
		positions: []venue.Position{{Symbol: "BTCUSDT", Amount: decimal.Zero, EntryPrice: dd(99.2)}},
	}
	r, _ := newReconciler(t, adapter)
	sym := &state.Symbol{}
	cfg := config.SymbolConfig{Symbol: "BTCUSDT", Mode: types.ModeNeutral}

	local := book.Book{Orders: []book.Record{
		{OrderID: 1, Side: types.Buy, Price: dd(99), Quantity: dd(0.5)},
	}}

	err := r.replace(context.Background(), cfg, sym, dd(100), venue.Filters{}, dd(1), nil, local)
	require.NoError(t, err)
	require.Empty(t, adapter.placedLimits)
	require.True(t, adapter.cancelAllCalled)
}

// Scenario 4 (spec §8): stop-loss trigger, neutral fixed, one-sided grid.
// Remote shows no BUYs, only SELLs with (remaining) highest_sell=101;
// tolerance=0.05, s=1. At P_ref=99.5, 99.5 < 101-1.5-0.05=99.45 is false, no
// reset. At P_ref=99.40, it is true and the grid resets.
func TestCheckEnvelopeResetsOnOneSidedFixedEnvelopeBreach(t *testing.T) {
	adapter := &fakeAdapter{}
	r, _ := newReconciler(t, adapter)
	sym := &state.Symbol{}
	cfg := config.SymbolConfig{Symbol: "BTCUSDT", Mode: types.ModeNeutral}

	remoteOrders := []venue.Order{
		{OrderID: 1, Side: types.Sell, Price: dd(101)},
	}

	err := r.checkEnvelope(context.Background(), cfg, sym, dd(99.5), dd(1), remoteOrders)
	require.NoError(t, err)
	require.False(t, adapter.cancelAllCalled, "no reset yet at P_ref=99.5")

	err = r.checkEnvelope(context.Background(), cfg, sym, dd(99.40), dd(1), remoteOrders)
	require.NoError(t, err)
	require.True(t, adapter.cancelAllCalled, "reset expected at P_ref=99.40")
}

// A two-sided grid never triggers the fixed-mode check: the original only
// fires it once one side has been entirely filled.
func TestCheckEnvelopeTwoSidedNeverTriggersFixedCheck(t *testing.T) {
	adapter := &fakeAdapter{}
	r, _ := newReconciler(t, adapter)
	sym := &state.Symbol{}
	cfg := config.SymbolConfig{Symbol: "BTCUSDT", Mode: types.ModeNeutral}

	remoteOrders := []venue.Order{
		{OrderID: 1, Side: types.Buy, Price: dd(90)},
		{OrderID: 2, Side: types.Sell, Price: dd(110)},
	}
	err := r.checkEnvelope(context.Background(), cfg, sym, dd(500), dd(1), remoteOrders)
	require.NoError(t, err)
	require.False(t, adapter.cancelAllCalled)
}

// Scenario 6 (spec §8): insufficient margin is fatal and propagates as
// ErrFatalMargin so the Supervisor can reset every symbol and terminate.
func TestHandleVenueErrorFatalMargin(t *testing.T) {
	adapter := &fakeAdapter{}
	r, _ := newReconciler(t, adapter)
	sym := &state.Symbol{}

	apiErr := &futures.APIError{Code: -2019, Message: "Margin is insufficient."}
	err := r.handleVenueError(context.Background(), "BTCUSDT", sym, apiErr, "place order")
	require.ErrorIs(t, err, ErrFatalMargin)
}

func TestHandleVenueErrorClockSkewResets(t *testing.T) {
	adapter := &fakeAdapter{}
	r, _ := newReconciler(t, adapter)
	sym := &state.Symbol{}

	apiErr := &futures.APIError{Code: -1021, Message: "Timestamp outside recvWindow."}
	err := r.handleVenueError(context.Background(), "BTCUSDT", sym, apiErr, "fetch mark price")
	require.NoError(t, err)
	require.True(t, adapter.cancelAllCalled)
}

func TestHandleVenueErrorTransientAbortsPassWithoutReset(t *testing.T) {
	adapter := &fakeAdapter{}
	r, _ := newReconciler(t, adapter)
	sym := &state.Symbol{}

	apiErr := &futures.APIError{Code: -1008, Message: "Server busy."}
	err := r.handleVenueError(context.Background(), "BTCUSDT", sym, apiErr, "fetch open orders")
	require.ErrorIs(t, err, errAbortPass)
	require.False(t, adapter.cancelAllCalled)
}
