// Package pricing implements the engine's tick/step rounding rule.
//
// Grounded on execution_service.go's FormatPrice/FormatQty (tick/step
// precision derived from the exchange filter) and on
// original_source/order_management.py's round_to_tick_size, which adds the
// small epsilon offset kept here. Unlike the teacher, all arithmetic uses
// shopspring/decimal rather than float64, so the epsilon bias is exact
// rather than subject to float rounding.
package pricing

import "github.com/shopspring/decimal"

// epsilon biases rounding away from an exact tick/step boundary so that two
// adjacent grid levels never collapse onto the same quantum.
var epsilon = decimal.New(1, -6)

// RoundToTick rounds p to the nearest multiple of tick, per
// round_to_tick(p, tick, ε) = round((p+ε)/tick) * tick.
func RoundToTick(p, tick decimal.Decimal) decimal.Decimal {
	if tick.IsZero() {
		return p
	}
	return p.Add(epsilon).DivRound(tick, 16).Round(0).Mul(tick)
}

// RoundToStep rounds q to the nearest multiple of step using the same rule.
func RoundToStep(q, step decimal.Decimal) decimal.Decimal {
	return RoundToTick(q, step)
}

// Precision returns the number of decimal places implied by a tick/step
// quantum, e.g. 0.01 -> 2, 0.001 -> 3, 1 -> 0. Mirrors
// execution_service.go's getPrecision.
func Precision(quantum decimal.Decimal) int32 {
	if quantum.GreaterThanOrEqual(decimal.NewFromInt(1)) || quantum.IsZero() {
		return 0
	}
	exp := quantum.Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}

// FormatDecimal renders v at the precision implied by quantum, the string
// form the venue adapter sends on the wire.
func FormatDecimal(v, quantum decimal.Decimal) string {
	return v.StringFixed(Precision(quantum))
}

// Distinct nudges p forward by one tick in the direction of travel (sign)
// when it collides with taken, implementing the tie-break rule of spec
// §4.6: "if two computed prices collide on the same tick, the higher index
// uses the next distinct tick."
func Distinct(p, tick decimal.Decimal, ascending bool, taken map[string]bool) decimal.Decimal {
	key := p.String()
	for taken[key] {
		if ascending {
			p = p.Add(tick)
		} else {
			p = p.Sub(tick)
		}
		key = p.String()
	}
	taken[key] = true
	return p
}
