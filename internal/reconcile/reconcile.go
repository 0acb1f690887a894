// Package reconcile implements the Reconciler (C7), the per-symbol pass
// that pulls remote orders/positions, diffs against the local book, places
// replacements for filled orders, detects stop-loss/reset conditions, and
// persists the new local book.
//
// Grounded on original_source/order_management.py's handle_grid_orders
// (both the empty-remote creation path and the existing-orders replacement
// path) and on execution_service.go's placeProtectionOrders/emergencyClose
// for the shape of a place-then-protect call sequence.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"gridsentinel/internal/book"
	"gridsentinel/internal/config"
	"gridsentinel/internal/grid"
	"gridsentinel/internal/metrics"
	"gridsentinel/internal/notify"
	"gridsentinel/internal/pricing"
	"gridsentinel/internal/state"
	"gridsentinel/internal/types"
	"gridsentinel/internal/venue"
	"gridsentinel/internal/volatility"
)

// ErrFatalMargin is returned when the venue reports insufficient margin
// (-2019). The Supervisor, not the Reconciler, resets every configured
// symbol and terminates the process on this error, since a single symbol's
// Reconciler cannot see its siblings.
var ErrFatalMargin = errors.New("reconcile: insufficient margin")

// errAbortPass signals a transient condition that should end this symbol's
// pass without mutating local state.
var errAbortPass = errors.New("reconcile: pass aborted")

const (
	tolerancePercentOfSpacing = 0.05
	clampPercentOfAnchor      = 0.002
	envelopeMultiplier        = 1.5
	longShortResetMultiplier  = 2.0
	bollingerBandPad          = 0.01
)

// Reconciler owns the collaborators a pass needs.
type Reconciler struct {
	Adapter  venue.Adapter
	Store    *book.Store
	Notifier notify.Sink
	Limiter  *rate.Limiter
}

// New builds a Reconciler with a ~500ms fixed delay before each mutating
// call, per spec §5's venue rate-limit policy.
func New(adapter venue.Adapter, store *book.Store, notifier notify.Sink) *Reconciler {
	return &Reconciler{
		Adapter:  adapter,
		Store:    store,
		Notifier: notifier,
		Limiter:  rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

func (r *Reconciler) throttle(ctx context.Context) {
	_ = r.Limiter.Wait(ctx)
}

// Run executes one pass for cfg.Symbol, mutating sym's spacing cache as
// needed. It returns ErrFatalMargin when the venue reports insufficient
// margin; any other non-nil error means the pass was aborted without a
// fatal condition (a transient failure, which includes a failed placement
// that is not a venue API error, or an insufficient-notional rejection).
// Errors handled by a reset (clock skew, bad request, unknown venue code)
// return nil.
func (r *Reconciler) Run(ctx context.Context, cfg config.SymbolConfig, sym *state.Symbol) error {
	symbol := cfg.Symbol

	// 1. Reference price (the venue Client returns the websocket sample when
	// a PriceFeed is wired and has one, else the REST mark/ticker price),
	// then tick/step filters.
	refPrice, err := r.Adapter.MarkPrice(ctx, symbol, cfg.WorkingType)
	if err != nil {
		return r.handleVenueError(ctx, symbol, sym, err, "fetch mark price")
	}
	filters, err := r.Adapter.Filters(ctx, symbol)
	if err != nil {
		return r.handleVenueError(ctx, symbol, sym, err, "fetch filters")
	}

	// 2. Base spacing: cache hit on subsequent passes until reset.
	spacing, err := r.resolveSpacing(ctx, cfg, sym, refPrice)
	if err != nil {
		return r.handleVenueError(ctx, symbol, sym, err, "compute base spacing")
	}

	// 3. Remote open orders.
	remoteOrders, err := r.Adapter.OpenOrders(ctx, symbol)
	if err != nil {
		return r.handleVenueError(ctx, symbol, sym, err, "fetch open orders")
	}

	// 4. Local book.
	localBook := r.Store.Load(symbol)

	if len(remoteOrders) == 0 {
		if err := r.createGrid(ctx, cfg, sym, refPrice, filters, spacing); err != nil {
			return r.handleVenueError(ctx, symbol, sym, err, "create grid")
		}
		return nil
	}

	if err := r.replace(ctx, cfg, sym, refPrice, filters, spacing, remoteOrders, localBook); err != nil {
		return r.handleVenueError(ctx, symbol, sym, err, "replace filled orders")
	}

	if err := r.checkEnvelope(ctx, cfg, sym, refPrice, spacing, remoteOrders); err != nil {
		return r.handleVenueError(ctx, symbol, sym, err, "envelope check")
	}

	return nil
}

// resolveSpacing returns the cached base_spacing. On a cache miss it
// computes and caches spacing_percentage of the reference price when that
// is configured, otherwise the dynamic-spacing estimate (FallbackPercent of
// the reference price when the klines fetch fails).
func (r *Reconciler) resolveSpacing(ctx context.Context, cfg config.SymbolConfig, sym *state.Symbol, refPrice decimal.Decimal) (decimal.Decimal, error) {
	sym.Lock()
	cached := sym.BaseSpacing
	sym.Unlock()
	if cached != nil {
		return *cached, nil
	}

	var spacing decimal.Decimal
	if cfg.SpacingPercentage > 0 {
		spacing = refPrice.Mul(decimal.NewFromFloat(cfg.SpacingPercentage / 100))
	} else {
		candles, err := r.Adapter.Klines(ctx, cfg.Symbol, "4h", 3)
		if err != nil {
			spacing = refPrice.Mul(decimal.NewFromFloat(volatility.FallbackPercent))
		} else {
			spacing = volatility.DynamicBaseSpacing(candles, refPrice)
		}
	}

	sym.Lock()
	sym.BaseSpacing = &spacing
	sym.Unlock()
	return spacing, nil
}

// createGrid is step 5 of the control loop: grid creation when remote
// open_orders is empty.
func (r *Reconciler) createGrid(ctx context.Context, cfg config.SymbolConfig, sym *state.Symbol, refPrice decimal.Decimal, filters venue.Filters, spacing decimal.Decimal) error {
	params := grid.Params{
		RefPrice:           refPrice,
		Levels:             cfg.GridLevels,
		BaseSpacing:        spacing,
		Progression:        decimal.NewFromFloat(cfg.GridProgression),
		Progressive:        cfg.ProgressiveGrid,
		Tick:               filters.TickSize,
		Step:               filters.StepSize,
		BaseQuantity:       decimal.NewFromFloat(cfg.OrderQuantity),
		QuantityMultiplier: decimal.NewFromFloat(cfg.QuantityMultiplier),
		Mode:               cfg.Mode,
		BollingerBounded:   cfg.BollingerBounded,
	}

	if cfg.BollingerBounded {
		bands, err := r.bollingerBands(ctx, cfg)
		if err != nil {
			return nil // insufficient candles: defer to next pass
		}
		params.Upper, params.Lower, params.SMA = bands.Upper, bands.Lower, bands.SMA
		if !grid.BollingerPrecondition(refPrice, bands.SMA, spacing) {
			return nil // precondition fails: plan is empty, deferred
		}
	}

	intents := grid.Plan(params)
	newBook := book.Empty()

	for _, intent := range intents {
		r.throttle(ctx)
		placed, err := r.placeIntent(ctx, cfg.Symbol, intent)
		if err != nil {
			// Per step 5: stop planning this pass and persist whatever
			// succeeded so far.
			_ = r.Store.Save(cfg.Symbol, newBook)
			return err
		}
		newBook.Orders = append(newBook.Orders, book.Record{
			OrderID:  placed.OrderID,
			Price:    intent.Price,
			Side:     intent.Side,
			Quantity: intent.Quantity,
		})
		updateEnvelope(&newBook, intent)
		metrics.OrdersPlaced.WithLabelValues(cfg.Symbol, string(intent.Side), string(intent.Kind)).Inc()
	}

	return r.Store.Save(cfg.Symbol, newBook)
}

func (r *Reconciler) bollingerBands(ctx context.Context, cfg config.SymbolConfig) (volatility.Bands, error) {
	candles, err := r.Adapter.Klines(ctx, cfg.Symbol, cfg.KlinesInterval, cfg.BBPeriod)
	if err != nil {
		return volatility.Bands{}, err
	}
	return volatility.Compute(candles, cfg.BBPeriod)
}

func updateEnvelope(b *book.Book, intent grid.Intent) {
	if intent.Side == types.Buy {
		if b.LimitOrders.LowestBuy == nil || intent.Price.LessThan(*b.LimitOrders.LowestBuy) {
			p := intent.Price
			b.LimitOrders.LowestBuy = &p
		}
	} else {
		if b.LimitOrders.HighestSell == nil || intent.Price.GreaterThan(*b.LimitOrders.HighestSell) {
			p := intent.Price
			b.LimitOrders.HighestSell = &p
		}
	}
}

func (r *Reconciler) placeIntent(ctx context.Context, symbol string, intent grid.Intent) (venue.PlacedOrder, error) {
	switch intent.Kind {
	case types.KindStopMarket:
		return r.Adapter.PlaceStopMarket(ctx, symbol, intent.Side, intent.Quantity.String(), intent.StopPrice.String(), types.WorkingMark)
	default:
		return r.Adapter.PlaceLimit(ctx, symbol, intent.Side, intent.Quantity.String(), intent.Price.String(), false)
	}
}

// replace is step 6: the existing-orders path.
func (r *Reconciler) replace(ctx context.Context, cfg config.SymbolConfig, sym *state.Symbol, refPrice decimal.Decimal, filters venue.Filters, spacing decimal.Decimal, remoteOrders []venue.Order, localBook book.Book) error {
	remoteByID := make(map[int64]venue.Order, len(remoteOrders))
	for _, o := range remoteOrders {
		remoteByID[o.OrderID] = o
	}

	newBook := book.Empty()
	tolerance := spacing.Mul(decimal.NewFromFloat(tolerancePercentOfSpacing))

	for _, rec := range localBook.Orders {
		if _, stillOpen := remoteByID[rec.OrderID]; stillOpen {
			newBook.Orders = append(newBook.Orders, rec)
			updateEnvelopeFromRecord(&newBook, rec)
			continue
		}

		// Presumed filled: fetch positions to decide reset vs counter-order.
		positions, err := r.Adapter.OpenPositions(ctx, cfg.Symbol)
		if err != nil {
			return err
		}
		pos := findPosition(positions, cfg.Symbol)
		if pos == nil || pos.Amount.IsZero() {
			if err := r.Reset(ctx, cfg.Symbol, sym, "position_flat"); err != nil {
				return err
			}
			return nil
		}

		counter, ok := r.computeCounter(rec, pos, refPrice, spacing, cfg)
		if !ok {
			continue
		}
		if dedupExists(remoteOrders, counter.Side, counter.Price, tolerance) {
			continue
		}

		r.throttle(ctx)
		placed, err := r.Adapter.PlaceLimit(ctx, cfg.Symbol, counter.Side, rec.Quantity.String(), counter.Price.String(), false)
		if err != nil {
			return err
		}
		newRec := book.Record{OrderID: placed.OrderID, Price: counter.Price, Side: counter.Side, Quantity: rec.Quantity}
		newBook.Orders = append(newBook.Orders, newRec)
		updateEnvelopeFromRecord(&newBook, newRec)
		metrics.OrdersReplaced.WithLabelValues(cfg.Symbol, string(counter.Side)).Inc()
	}

	return r.Store.Save(cfg.Symbol, newBook)
}

type counterOrder struct {
	Side  types.Side
	Price decimal.Decimal
}

// computeCounter implements step 6's offset/anchor/clamp rule. Anchor price
// is the position's entry_price, not the original level, per spec §4.7's
// explicit rationale (realised cost basis, not market drift) — this is a
// deliberate divergence from original_source/order_management.py, which
// anchors NEUTRAL-mode replacements on the previous order's own price; the
// specification's wording is unambiguous here and supersedes the original.
func (r *Reconciler) computeCounter(rec book.Record, pos *venue.Position, refPrice, baseSpacing decimal.Decimal, cfg config.SymbolConfig) (counterOrder, bool) {
	counterSide := rec.Side.Opposite()
	anchor := pos.EntryPrice

	level := rec.Price.Sub(refPrice).Abs().Div(baseSpacing).Round(0)
	levelInt := int(level.IntPart())
	if levelInt < 1 {
		levelInt = 1
	}

	var offset decimal.Decimal
	if cfg.ProgressiveGrid {
		offset = grid.VariableSpacing(levelInt, baseSpacing, decimal.NewFromFloat(cfg.GridProgression))
	} else {
		offset = baseSpacing
	}

	var price decimal.Decimal
	if counterSide == types.Sell {
		price = anchor.Add(offset)
	} else {
		price = anchor.Sub(offset)
	}

	// If it lands on the wrong side of the anchor, clamp to anchor +/- 0.2%.
	clamp := anchor.Mul(decimal.NewFromFloat(clampPercentOfAnchor))
	if counterSide == types.Sell && price.LessThanOrEqual(anchor) {
		price = anchor.Add(clamp)
	}
	if counterSide == types.Buy && price.GreaterThanOrEqual(anchor) {
		price = anchor.Sub(clamp)
	}

	return counterOrder{Side: counterSide, Price: price}, true
}

func dedupExists(remoteOrders []venue.Order, side types.Side, price, tolerance decimal.Decimal) bool {
	for _, o := range remoteOrders {
		if o.Side != side {
			continue
		}
		if o.Price.Sub(price).Abs().LessThanOrEqual(tolerance) {
			return true
		}
	}
	return false
}

func findPosition(positions []venue.Position, symbol string) *venue.Position {
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i]
		}
	}
	return nil
}

func updateEnvelopeFromRecord(b *book.Book, rec book.Record) {
	if rec.Side == types.Buy {
		if b.LimitOrders.LowestBuy == nil || rec.Price.LessThan(*b.LimitOrders.LowestBuy) {
			p := rec.Price
			b.LimitOrders.LowestBuy = &p
		}
	} else {
		if b.LimitOrders.HighestSell == nil || rec.Price.GreaterThan(*b.LimitOrders.HighestSell) {
			p := rec.Price
			b.LimitOrders.HighestSell = &p
		}
	}
}

// checkEnvelope is step 7: stop-loss/envelope checks, NEUTRAL only for the
// band/fixed-mode checks; LONG/SHORT get their own mirrored checks.
func (r *Reconciler) checkEnvelope(ctx context.Context, cfg config.SymbolConfig, sym *state.Symbol, refPrice, spacing decimal.Decimal, remoteOrders []venue.Order) error {
	tolerance := spacing.Mul(decimal.NewFromFloat(tolerancePercentOfSpacing))

	switch cfg.Mode {
	case types.ModeNeutral:
		if cfg.BollingerBounded {
			bands, err := r.bollingerBands(ctx, cfg)
			if err != nil {
				return nil
			}
			bandWidth := bands.Upper.Sub(bands.Lower)
			pad := bandWidth.Mul(decimal.NewFromFloat(bollingerBandPad))
			lowerBound := bands.Lower.Sub(pad)
			upperBound := bands.Upper.Add(pad)
			positions, err := r.Adapter.OpenPositions(ctx, cfg.Symbol)
			if err != nil {
				return err
			}
			if pos := findPosition(positions, cfg.Symbol); pos != nil && !pos.Amount.IsZero() {
				return nil
			}
			for _, o := range remoteOrders {
				if o.Price.LessThan(lowerBound) || o.Price.GreaterThan(upperBound) {
					return r.Reset(ctx, cfg.Symbol, sym, "bollinger_envelope")
				}
			}
			return nil
		}

		lowestSell, highestBuy, sellOnly, buyOnly := extremes(remoteOrders)
		if sellOnly {
			lowBound := lowestSell.Sub(spacing.Mul(decimal.NewFromFloat(envelopeMultiplier))).Sub(tolerance)
			if refPrice.LessThan(lowBound) {
				return r.Reset(ctx, cfg.Symbol, sym, "fixed_envelope")
			}
		}
		if buyOnly {
			highBound := highestBuy.Add(spacing.Mul(decimal.NewFromFloat(envelopeMultiplier))).Add(tolerance)
			if refPrice.GreaterThan(highBound) {
				return r.Reset(ctx, cfg.Symbol, sym, "fixed_envelope")
			}
		}
		return nil

	case types.ModeLong:
		lowestStop, ok := lowestStopBuy(remoteOrders)
		if ok && lowestStop.Sub(refPrice).GreaterThan(spacing.Mul(decimal.NewFromFloat(longShortResetMultiplier))) {
			return r.Reset(ctx, cfg.Symbol, sym, "long_stop_drift")
		}
		local := r.Store.Load(cfg.Symbol)
		if local.LimitOrders.HighestSell != nil && !sellStillRemote(remoteOrders, *local.LimitOrders.HighestSell, tolerance) {
			return r.Reset(ctx, cfg.Symbol, sym, "long_take_profit_crossed")
		}
		return nil

	case types.ModeShort:
		highestStop, ok := highestStopSell(remoteOrders)
		if ok && refPrice.Sub(highestStop).GreaterThan(spacing.Mul(decimal.NewFromFloat(longShortResetMultiplier))) {
			return r.Reset(ctx, cfg.Symbol, sym, "short_stop_drift")
		}
		local := r.Store.Load(cfg.Symbol)
		if local.LimitOrders.LowestBuy != nil && !buyStillRemote(remoteOrders, *local.LimitOrders.LowestBuy, tolerance) {
			return r.Reset(ctx, cfg.Symbol, sym, "short_take_profit_crossed")
		}
		return nil
	}
	return nil
}

// extremes reports the grid's one-sided boundary price, per
// order_management.py:325-343: the check only fires when exactly one side
// of the grid remains (the other side having been entirely filled). With
// only sells left, lowestSell is the nearest sell above market; with only
// buys left, highestBuy is the nearest buy below market. A two-sided grid
// returns sellOnly=false and buyOnly=false, matching the original's own guard.
func extremes(orders []venue.Order) (lowestSell, highestBuy decimal.Decimal, sellOnly, buyOnly bool) {
	var hasBuy, hasSell bool
	for _, o := range orders {
		if o.Side == types.Buy {
			if !hasBuy || o.Price.GreaterThan(highestBuy) {
				highestBuy = o.Price
				hasBuy = true
			}
		} else {
			if !hasSell || o.Price.LessThan(lowestSell) {
				lowestSell = o.Price
				hasSell = true
			}
		}
	}
	return lowestSell, highestBuy, hasSell && !hasBuy, hasBuy && !hasSell
}

func lowestStopBuy(orders []venue.Order) (decimal.Decimal, bool) {
	var lowest decimal.Decimal
	found := false
	for _, o := range orders {
		if o.Side == types.Buy && o.Kind == types.KindStopMarket {
			if !found || o.StopPrice.LessThan(lowest) {
				lowest = o.StopPrice
				found = true
			}
		}
	}
	return lowest, found
}

func highestStopSell(orders []venue.Order) (decimal.Decimal, bool) {
	var highest decimal.Decimal
	found := false
	for _, o := range orders {
		if o.Side == types.Sell && o.Kind == types.KindStopMarket {
			if !found || o.StopPrice.GreaterThan(highest) {
				highest = o.StopPrice
				found = true
			}
		}
	}
	return highest, found
}

func sellStillRemote(orders []venue.Order, price, tolerance decimal.Decimal) bool {
	for _, o := range orders {
		if o.Side == types.Sell && o.Price.Sub(price).Abs().LessThanOrEqual(tolerance) {
			return true
		}
	}
	return false
}

func buyStillRemote(orders []venue.Order, price, tolerance decimal.Decimal) bool {
	for _, o := range orders {
		if o.Side == types.Buy && o.Price.Sub(price).Abs().LessThanOrEqual(tolerance) {
			return true
		}
	}
	return false
}

// Reset implements "reset grid" (spec §7): close all open positions by
// market orders matching their signed amount, cancel all open orders,
// clear the persisted book, evict base_spacing, and drop any active
// breakout. Grounded on original_source/order_management.py's reset_grid
// and execution_service.go's EmergencyStopAll.
func (r *Reconciler) Reset(ctx context.Context, symbol string, sym *state.Symbol, reason string) error {
	log.Printf("gridsentinel: resetting %s (%s)", symbol, reason)
	metrics.Resets.WithLabelValues(symbol, reason).Inc()

	positions, err := r.Adapter.OpenPositions(ctx, symbol)
	if err == nil {
		for _, pos := range positions {
			if pos.Amount.IsZero() {
				continue
			}
			closeSide := types.Sell
			if pos.Amount.IsNegative() {
				closeSide = types.Buy
			}
			r.throttle(ctx)
			if _, err := r.Adapter.PlaceMarket(ctx, symbol, closeSide, pos.Amount.Abs().String()); err != nil {
				log.Printf("gridsentinel: failed to close position for %s: %v", symbol, err)
			}
		}
	}

	r.throttle(ctx)
	if err := r.Adapter.CancelAll(ctx, symbol); err != nil {
		log.Printf("gridsentinel: failed to cancel orders for %s: %v", symbol, err)
	}

	if err := r.Store.Clear(symbol); err != nil {
		log.Printf("gridsentinel: failed to clear book for %s: %v", symbol, err)
	}

	sym.Lock()
	sym.EvictSpacing()
	sym.ActiveBreakout = nil
	sym.GateActive = false
	sym.Unlock()

	_ = r.Notifier.Notify(ctx, fmt.Sprintf("grid reset for %s (%s)", symbol, reason))
	return nil
}

// handleVenueError implements the error-kind table of spec §7.
func (r *Reconciler) handleVenueError(ctx context.Context, symbol string, sym *state.Symbol, err error, op string) error {
	classification, known := venue.Classify(err)
	if !known {
		return nil
	}

	switch classification {
	case venue.Transient:
		log.Printf("gridsentinel: %s: transient error during %s: %v", symbol, op, err)
		return errAbortPass

	case venue.ClockSkew:
		log.Printf("gridsentinel: %s: clock skew during %s: %v", symbol, op, err)
		_, _ = r.Adapter.ServerTime(ctx)
		return r.Reset(ctx, symbol, sym, "clock_skew")

	case venue.BadRequest:
		log.Printf("gridsentinel: %s: bad request during %s: %v", symbol, op, err)
		return r.Reset(ctx, symbol, sym, "bad_request")

	case venue.FatalMargin:
		log.Printf("gridsentinel: %s: insufficient margin during %s: %v", symbol, op, err)
		_ = r.Notifier.Notify(ctx, fmt.Sprintf("FATAL: insufficient margin on %s, shutting down", symbol))
		return ErrFatalMargin

	case venue.InsufficientNotional:
		log.Printf("gridsentinel: %s: insufficient notional during %s, skipping symbol this pass", symbol, op)
		return errAbortPass

	default:
		log.Printf("gridsentinel: %s: unknown venue error during %s: %v", symbol, op, err)
		return r.Reset(ctx, symbol, sym, "unknown_error")
	}
}
