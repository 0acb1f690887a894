package gate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"gridsentinel/internal/types"
	"gridsentinel/internal/volatility"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestEvaluateStartsOnlyBelowHalfThreshold(t *testing.T) {
	dec := Evaluate(d(0.04), d(0.10), false, types.ModeNeutral, d(100), volatility.Bands{})
	require.Equal(t, types.GateStart, dec.Action)
	require.True(t, dec.Active)
	require.Equal(t, types.StrategyGrid, dec.Strategy)

	dec = Evaluate(d(0.06), d(0.10), false, types.ModeNeutral, d(100), volatility.Bands{})
	require.Equal(t, types.GateContinue, dec.Action)
	require.False(t, dec.Active)
}

func TestEvaluateStopsOnlyAboveThreshold(t *testing.T) {
	dec := Evaluate(d(0.11), d(0.10), true, types.ModeNeutral, d(100), volatility.Bands{})
	require.Equal(t, types.GateStop, dec.Action)
	require.False(t, dec.Active)

	dec = Evaluate(d(0.09), d(0.10), true, types.ModeNeutral, d(100), volatility.Bands{})
	require.Equal(t, types.GateContinue, dec.Action)
	require.True(t, dec.Active)
}

func TestEvaluateTagsBreakoutDirection(t *testing.T) {
	bands := volatility.Bands{Upper: d(105), Lower: d(95)}

	long := Evaluate(d(0.2), d(0.1), true, types.ModeLong, d(106), bands)
	require.Equal(t, types.StrategyBreakoutLong, long.Strategy)

	short := Evaluate(d(0.2), d(0.1), true, types.ModeShort, d(94), bands)
	require.Equal(t, types.StrategyBreakoutShort, short.Strategy)

	none := Evaluate(d(0.2), d(0.1), true, types.ModeLong, d(100), bands)
	require.Equal(t, types.StrategyNone, none.Strategy)

	neutralStop := Evaluate(d(0.2), d(0.1), true, types.ModeNeutral, d(106), bands)
	require.Equal(t, types.StrategyNone, neutralStop.Strategy)
}
