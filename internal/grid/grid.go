// Package grid implements the Grid Planner (C6): given a reference price,
// level count, spacing rule, and mode, emits the ordered set of intended
// orders.
//
// Grounded on original_source/order_management.py's handle_grid_orders
// (neutral/long/short creation paths) and calculate_variable_grid_spacing
// (progressive spacing), with the tie-break/ε-offset behaviour from spec
// §4.2/§4.6 layered on top via internal/pricing.
package grid

import (
	"github.com/shopspring/decimal"

	"gridsentinel/internal/pricing"
	"gridsentinel/internal/types"
)

// Intent is one planned order, not yet placed.
type Intent struct {
	Side      types.Side
	Price     decimal.Decimal // limit price, or trigger price for stop orders
	Quantity  decimal.Decimal
	Kind      types.OrderKind
	StopPrice decimal.Decimal // set for STOP_MARKET legs
}

// Params bundles the Planner's inputs (spec §4.6).
type Params struct {
	RefPrice           decimal.Decimal
	Levels             int
	BaseSpacing        decimal.Decimal
	Progression        decimal.Decimal // r; only used when Progressive
	Progressive        bool
	Tick               decimal.Decimal
	Step               decimal.Decimal
	BaseQuantity       decimal.Decimal
	QuantityMultiplier decimal.Decimal // NEUTRAL-uniform center-weighting; 1 = no effect
	Mode               types.Mode
	BollingerBounded   bool
	Upper              decimal.Decimal
	Lower              decimal.Decimal
	SMA                decimal.Decimal
}

// VariableSpacing returns base*progression^(level-1), the geometric curve
// calculate_variable_grid_spacing uses for both progressive spacing and
// progressive quantity scaling.
func VariableSpacing(level int, base, progression decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1)
	for i := 1; i < level; i++ {
		factor = factor.Mul(progression)
	}
	return base.Mul(factor)
}

// BollingerPrecondition reports whether initial grid creation may proceed
// in Bollinger-bounded mode: |P_ref - SMA| <= s.
func BollingerPrecondition(refPrice, sma, spacing decimal.Decimal) bool {
	diff := refPrice.Sub(sma).Abs()
	return diff.LessThanOrEqual(spacing)
}

// Plan computes the ordered set of intended orders for p.Mode.
func Plan(p Params) []Intent {
	switch p.Mode {
	case types.ModeLong:
		return planLong(p)
	case types.ModeShort:
		return planShort(p)
	default:
		if p.BollingerBounded {
			return planNeutralBollinger(p)
		}
		if p.Progressive {
			return planNeutralProgressive(p)
		}
		return planNeutralUniform(p)
	}
}

func planNeutralUniform(p Params) []Intent {
	taken := map[string]bool{}
	out := make([]Intent, 0, 2*p.Levels)
	qty := pricing.RoundToStep(p.BaseQuantity, p.Step)

	for i := 1; i <= p.Levels; i++ {
		levelQty := qty
		if p.QuantityMultiplier.GreaterThan(decimal.NewFromInt(1)) {
			// Center-weighted: quantity grows as level approaches the
			// reference price (multiplier^(N-i)), the inverse curve from
			// progressive spacing's size-grows-with-distance.
			exp := p.Levels - i
			factor := decimal.NewFromInt(1)
			for k := 0; k < exp; k++ {
				factor = factor.Mul(p.QuantityMultiplier)
			}
			levelQty = pricing.RoundToStep(p.BaseQuantity.Mul(factor), p.Step)
		}

		offset := decimal.NewFromInt(int64(i)).Mul(p.BaseSpacing)
		buyPrice := pricing.RoundToTick(p.RefPrice.Sub(offset), p.Tick)
		buyPrice = pricing.Distinct(buyPrice, p.Tick, false, taken)
		out = append(out, Intent{Side: types.Buy, Price: buyPrice, Quantity: levelQty, Kind: types.KindLimit})

		sellPrice := pricing.RoundToTick(p.RefPrice.Add(offset), p.Tick)
		sellPrice = pricing.Distinct(sellPrice, p.Tick, true, taken)
		out = append(out, Intent{Side: types.Sell, Price: sellPrice, Quantity: levelQty, Kind: types.KindLimit})
	}
	return out
}

func planNeutralProgressive(p Params) []Intent {
	taken := map[string]bool{}
	out := make([]Intent, 0, 2*p.Levels)
	// Level i sits spacing_i beyond level i-1, so its distance from the
	// reference price is the running sum of the level spacings.
	offset := decimal.Zero

	for i := 1; i <= p.Levels; i++ {
		spacing := VariableSpacing(i, p.BaseSpacing, p.Progression)
		offset = offset.Add(spacing)
		qty := pricing.RoundToStep(p.BaseQuantity.Mul(spacing.Div(p.BaseSpacing)), p.Step)

		buyPrice := pricing.RoundToTick(p.RefPrice.Sub(offset), p.Tick)
		buyPrice = pricing.Distinct(buyPrice, p.Tick, false, taken)
		out = append(out, Intent{Side: types.Buy, Price: buyPrice, Quantity: qty, Kind: types.KindLimit})

		sellPrice := pricing.RoundToTick(p.RefPrice.Add(offset), p.Tick)
		sellPrice = pricing.Distinct(sellPrice, p.Tick, true, taken)
		out = append(out, Intent{Side: types.Sell, Price: sellPrice, Quantity: qty, Kind: types.KindLimit})
	}
	return out
}

// planNeutralBollinger walks upward from tick_round(P_ref) placing N SELL
// limits (skipping levels <= P_ref) and walks downward placing N BUY
// limits (skipping levels >= P_ref). Bands are advisory only: levels are
// never clipped to them beyond the creation precondition already checked
// by the caller (open question #2 resolved: ignore the bound beyond the
// start condition, per spec §9's note that "current logic ignores the
// bound and walks N levels unconditionally").
func planNeutralBollinger(p Params) []Intent {
	taken := map[string]bool{}
	out := make([]Intent, 0, 2*p.Levels)
	qty := pricing.RoundToStep(p.BaseQuantity, p.Step)
	start := pricing.RoundToTick(p.RefPrice, p.Tick)

	sellsPlaced := 0
	for level := decimal.NewFromInt(1); sellsPlaced < p.Levels; level = level.Add(decimal.NewFromInt(1)) {
		candidate := pricing.RoundToTick(start.Add(level.Mul(p.BaseSpacing)), p.Tick)
		if candidate.LessThanOrEqual(p.RefPrice) {
			continue
		}
		candidate = pricing.Distinct(candidate, p.Tick, true, taken)
		out = append(out, Intent{Side: types.Sell, Price: candidate, Quantity: qty, Kind: types.KindLimit})
		sellsPlaced++
	}

	buysPlaced := 0
	for level := decimal.NewFromInt(1); buysPlaced < p.Levels; level = level.Add(decimal.NewFromInt(1)) {
		candidate := pricing.RoundToTick(start.Sub(level.Mul(p.BaseSpacing)), p.Tick)
		if candidate.GreaterThanOrEqual(p.RefPrice) {
			continue
		}
		candidate = pricing.Distinct(candidate, p.Tick, false, taken)
		out = append(out, Intent{Side: types.Buy, Price: candidate, Quantity: qty, Kind: types.KindLimit})
		buysPlaced++
	}
	return out
}

// planLong lays out ascending stop-market BUY triggers above P_ref at i*s,
// each paired with a limit SELL N*s above the buy trigger.
func planLong(p Params) []Intent {
	taken := map[string]bool{}
	out := make([]Intent, 0, 2*p.Levels)
	qty := pricing.RoundToStep(p.BaseQuantity, p.Step)
	topOffset := decimal.NewFromInt(int64(p.Levels)).Mul(p.BaseSpacing)

	for i := 1; i <= p.Levels; i++ {
		offset := decimal.NewFromInt(int64(i)).Mul(p.BaseSpacing)
		triggerPrice := pricing.RoundToTick(p.RefPrice.Add(offset), p.Tick)
		triggerPrice = pricing.Distinct(triggerPrice, p.Tick, true, taken)
		out = append(out, Intent{Side: types.Buy, Price: triggerPrice, StopPrice: triggerPrice, Quantity: qty, Kind: types.KindStopMarket})

		sellPrice := pricing.RoundToTick(triggerPrice.Add(topOffset), p.Tick)
		sellPrice = pricing.Distinct(sellPrice, p.Tick, true, taken)
		out = append(out, Intent{Side: types.Sell, Price: sellPrice, Quantity: qty, Kind: types.KindLimit})
	}
	return out
}

// planShort mirrors planLong below the market.
func planShort(p Params) []Intent {
	taken := map[string]bool{}
	out := make([]Intent, 0, 2*p.Levels)
	qty := pricing.RoundToStep(p.BaseQuantity, p.Step)
	bottomOffset := decimal.NewFromInt(int64(p.Levels)).Mul(p.BaseSpacing)

	for i := 1; i <= p.Levels; i++ {
		offset := decimal.NewFromInt(int64(i)).Mul(p.BaseSpacing)
		triggerPrice := pricing.RoundToTick(p.RefPrice.Sub(offset), p.Tick)
		triggerPrice = pricing.Distinct(triggerPrice, p.Tick, false, taken)
		out = append(out, Intent{Side: types.Sell, Price: triggerPrice, StopPrice: triggerPrice, Quantity: qty, Kind: types.KindStopMarket})

		buyPrice := pricing.RoundToTick(triggerPrice.Sub(bottomOffset), p.Tick)
		buyPrice = pricing.Distinct(buyPrice, p.Tick, false, taken)
		out = append(out, Intent{Side: types.Buy, Price: buyPrice, Quantity: qty, Kind: types.KindLimit})
	}
	return out
}
