// Package gate implements the Gate (C4): the hysteretic two-threshold
// decision that toggles a symbol between grid and idle regimes.
//
// Grounded on original_source/binance_futures.py's calculate_bot_trigger,
// which defines the exact bbw_start_threshold = T/2 split this carries
// over. The breakout direction tagging supplements the original (which
// only distinguishes 'grid'/'none') per spec §4.4's strategy tag, using
// the original's own candle_outside_bb signal to decide the side.
package gate

import (
	"github.com/shopspring/decimal"

	"gridsentinel/internal/types"
	"gridsentinel/internal/volatility"
)

// Decision is the Gate's output for one pass.
type Decision struct {
	Action   types.GateAction
	Active   bool
	Strategy types.Strategy
}

// Evaluate decides start/stop/continue from the current BBW, the symbol's
// threshold T, and whether the gate was previously active.
//
//   - !active && BBW < T/2 -> start, strategy=grid
//   - active  && BBW > T   -> stop
//   - otherwise            -> continue, preserving prior state
//
// When the gate transitions to stop on a LONG/SHORT-mode symbol, the
// breakout direction is derived from which side of the bands the latest
// close broke through.
func Evaluate(bbw decimal.Decimal, threshold decimal.Decimal, active bool, mode types.Mode, lastClose decimal.Decimal, bands volatility.Bands) Decision {
	half := threshold.Div(decimal.NewFromInt(2))

	if !active {
		if bbw.LessThan(half) {
			return Decision{Action: types.GateStart, Active: true, Strategy: types.StrategyGrid}
		}
		return Decision{Action: types.GateContinue, Active: false, Strategy: types.StrategyNone}
	}

	if bbw.GreaterThan(threshold) {
		strategy := breakoutStrategy(mode, lastClose, bands)
		return Decision{Action: types.GateStop, Active: false, Strategy: strategy}
	}

	return Decision{Action: types.GateContinue, Active: true, Strategy: types.StrategyGrid}
}

// breakoutStrategy tags the direction a LONG/SHORT-mode symbol should take
// on gate stop, per the candle_outside_bb signal in
// original_source/binance_futures.py's calculate_bot_trigger.
func breakoutStrategy(mode types.Mode, lastClose decimal.Decimal, bands volatility.Bands) types.Strategy {
	if mode != types.ModeLong && mode != types.ModeShort {
		return types.StrategyNone
	}
	switch {
	case lastClose.GreaterThan(bands.Upper):
		return types.StrategyBreakoutLong
	case lastClose.LessThan(bands.Lower):
		return types.StrategyBreakoutShort
	default:
		return types.StrategyNone
	}
}
