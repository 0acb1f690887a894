package breakout

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/shopspring/decimal"

	"gridsentinel/internal/config"
	"gridsentinel/internal/notify"
	"gridsentinel/internal/state"
	"gridsentinel/internal/types"
	"gridsentinel/internal/venue"
)

func TestRunIsNoOpWithoutBreakoutStrategy(t *testing.T) {
	adapter := &fakeAdapter{}
	c := New(adapter, notify.NoOp{}, rate.NewLimiter(rate.Inf, 1))
	sym := &state.Symbol{}

	err := c.Run(context.Background(), config.SymbolConfig{Symbol: "BTCUSDT"}, sym, types.StrategyNone)
	require.NoError(t, err)
	require.Empty(t, adapter.marketCalls)
}

// Scenario 5 (spec §8): breakout entry succeeds and attaches a trailing
// stop.
func TestRunEntersAndProtects(t *testing.T) {
	adapter := &fakeAdapter{}
	c := New(adapter, notify.NoOp{}, rate.NewLimiter(rate.Inf, 1))
	sym := &state.Symbol{}
	cfg := config.SymbolConfig{Symbol: "BTCUSDT", OrderQuantity: 0.1, TrailingStopRate: 1.0}

	err := c.Run(context.Background(), cfg, sym, types.StrategyBreakoutLong)
	require.NoError(t, err)
	require.Len(t, adapter.marketCalls, 1)
	require.Equal(t, types.Buy, adapter.marketCalls[0].side)
	require.Equal(t, 1, adapter.trailingCalls)

	sym.Lock()
	active := sym.ActiveBreakout
	sym.Unlock()
	require.NotNil(t, active)
	require.Equal(t, types.Buy, *active)
}

// When the trailing stop fails to place, the controller closes the entry
// with a compensating market order and clears the active breakout.
func TestRunClosesEntryWhenTrailingStopFails(t *testing.T) {
	adapter := &fakeAdapter{trailingErr: errors.New("reject")}
	c := New(adapter, notify.NoOp{}, rate.NewLimiter(rate.Inf, 1))
	sym := &state.Symbol{}
	cfg := config.SymbolConfig{Symbol: "BTCUSDT", OrderQuantity: 0.1, TrailingStopRate: 1.0}

	err := c.Run(context.Background(), cfg, sym, types.StrategyBreakoutShort)
	require.NoError(t, err)
	require.Len(t, adapter.marketCalls, 2)
	require.Equal(t, types.Sell, adapter.marketCalls[0].side) // entry
	require.Equal(t, types.Buy, adapter.marketCalls[1].side)  // compensating close

	sym.Lock()
	active := sym.ActiveBreakout
	sym.Unlock()
	require.Nil(t, active)
}

// A still-open position under an already-active breakout blocks a second
// entry until the position goes flat.
func TestRunSkipsWhileBreakoutStillActive(t *testing.T) {
	adapter := &fakeAdapter{positions: []venue.Position{{Symbol: "BTCUSDT", Amount: decimal.NewFromFloat(0.1)}}}
	c := New(adapter, notify.NoOp{}, rate.NewLimiter(rate.Inf, 1))
	sym := &state.Symbol{}
	side := types.Buy
	sym.ActiveBreakout = &side
	cfg := config.SymbolConfig{Symbol: "BTCUSDT", OrderQuantity: 0.1, TrailingStopRate: 1.0}

	err := c.Run(context.Background(), cfg, sym, types.StrategyBreakoutLong)
	require.NoError(t, err)
	require.Empty(t, adapter.marketCalls)
}
