// Package volatility implements the Volatility Analyzer (C3): SMA/σ/Bollinger
// Bands, BBW, and the dynamic base-spacing estimate.
//
// Grounded on original_source/binance_futures.py's get_bollinger_bands and
// calculate_dynamic_base_spacing, the source of every constant below.
// trend_analyzer.go's calculateEMA confirms this corpus's style of hand-
// rolling such indicators rather than reaching for a charting/TA library —
// there is no such library anywhere in the pack, so this stays stdlib math
// over shopspring/decimal, same as the rest of the pricing-sensitive core.
package volatility

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"

	"gridsentinel/internal/venue"
)

// ErrInsufficientCandles is returned when fewer than bb_period candles were
// supplied (spec §4.3: "If fewer than N candles returned → Insufficient").
var ErrInsufficientCandles = errors.New("volatility: insufficient candles")

// Bands is one Bollinger Band computation.
type Bands struct {
	SMA   decimal.Decimal
	Upper decimal.Decimal
	Lower decimal.Decimal
	BBW   decimal.Decimal
}

// Compute derives SMA/σ/Bollinger Bands/BBW over the closing prices of
// candles, taking the last bbPeriod candles.
func Compute(candles []venue.Candle, bbPeriod int) (Bands, error) {
	if len(candles) < bbPeriod {
		return Bands{}, ErrInsufficientCandles
	}
	window := candles[len(candles)-bbPeriod:]

	closes := make([]float64, len(window))
	for i, c := range window {
		f, _ := c.Close.Float64()
		closes[i] = f
	}

	sma := mean(closes)
	sd := stddev(closes, sma)
	upper := sma + 2*sd
	lower := sma - 2*sd
	bbw := 0.0
	if sma != 0 {
		bbw = (upper - lower) / sma
	}

	return Bands{
		SMA:   decimal.NewFromFloat(sma),
		Upper: decimal.NewFromFloat(upper),
		Lower: decimal.NewFromFloat(lower),
		BBW:   decimal.NewFromFloat(bbw),
	}, nil
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	// Sample standard deviation, matching pandas' default ddof=1 used by
	// get_bollinger_bands's rolling().std().
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

// Dynamic base-spacing defaults, from calculate_dynamic_base_spacing.
const (
	DefaultMultiplier  = 0.3
	DefaultMinAbsolute = 0.0001
	DefaultMinPercent  = 0.003
	FallbackPercent    = 0.007
)

// DynamicBaseSpacing takes the last K=3 of the supplied candles (the caller
// fetches them on the "4h" interval), computes per-candle relative
// amplitude (high-low)/low, averages them, and
// derives spacing = max(avg*m*lastClose, minAbs, lastClose*minPct). On any
// failure (too few candles, zero low) it falls back to a constant
// FallbackPercent*price.
func DynamicBaseSpacing(candles []venue.Candle, lastClose decimal.Decimal) decimal.Decimal {
	fallback := lastClose.Mul(decimal.NewFromFloat(FallbackPercent))

	const k = 3
	if len(candles) < k {
		return fallback
	}
	window := candles[len(candles)-k:]

	var sum decimal.Decimal
	for _, c := range window {
		if c.Low.IsZero() {
			return fallback
		}
		amplitude := c.High.Sub(c.Low).Div(c.Low)
		sum = sum.Add(amplitude)
	}
	avg := sum.Div(decimal.NewFromInt(k))

	spacing := avg.Mul(decimal.NewFromFloat(DefaultMultiplier)).Mul(lastClose)
	minAbs := decimal.NewFromFloat(DefaultMinAbsolute)
	minPct := lastClose.Mul(decimal.NewFromFloat(DefaultMinPercent))

	if spacing.LessThan(minAbs) {
		spacing = minAbs
	}
	if spacing.LessThan(minPct) {
		spacing = minPct
	}
	return spacing
}
