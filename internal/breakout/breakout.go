// Package breakout implements the Breakout Controller (C8): on a gate=stop
// decision carrying a directional signal, opens a market position and
// attaches a trailing stop.
//
// Grounded on execution_service.go's placeProtectionOrders/emergencyClose
// pair — place the entry, then protect it, and on protection failure
// immediately unwind with a compensating market order.
package breakout

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"gridsentinel/internal/config"
	"gridsentinel/internal/notify"
	"gridsentinel/internal/state"
	"gridsentinel/internal/types"
	"gridsentinel/internal/venue"
)

// Controller owns the collaborators a breakout decision needs.
type Controller struct {
	Adapter  venue.Adapter
	Notifier notify.Sink
	Limiter  *rate.Limiter
}

// New builds a Controller sharing the Reconciler's ~500ms placement delay.
func New(adapter venue.Adapter, notifier notify.Sink, limiter *rate.Limiter) *Controller {
	return &Controller{Adapter: adapter, Notifier: notifier, Limiter: limiter}
}

// Run handles one pass's breakout decision for a symbol currently gated
// stopped.
func (c *Controller) Run(ctx context.Context, cfg config.SymbolConfig, sym *state.Symbol, strategy types.Strategy) error {
	if strategy != types.StrategyBreakoutLong && strategy != types.StrategyBreakoutShort {
		return nil
	}

	sym.Lock()
	active := sym.ActiveBreakout
	sym.Unlock()

	if active != nil {
		positions, err := c.Adapter.OpenPositions(ctx, cfg.Symbol)
		if err != nil {
			return err
		}
		flat := true
		for _, p := range positions {
			if p.Symbol == cfg.Symbol && !p.Amount.IsZero() {
				flat = false
			}
		}
		if flat {
			sym.Lock()
			sym.ActiveBreakout = nil
			sym.Unlock()
		} else {
			return nil // one position per symbol: skip while still active
		}
	}

	entrySide := types.Buy
	exitSide := types.Sell
	if strategy == types.StrategyBreakoutShort {
		entrySide = types.Sell
		exitSide = types.Buy
	}

	qty := decimal.NewFromFloat(cfg.OrderQuantity).String()

	c.Limiter.Wait(ctx)
	if _, err := c.Adapter.PlaceMarket(ctx, cfg.Symbol, entrySide, qty); err != nil {
		return err
	}

	sym.Lock()
	side := entrySide
	sym.ActiveBreakout = &side
	sym.Unlock()

	c.Limiter.Wait(ctx)
	_, trailErr := c.Adapter.PlaceTrailingStop(ctx, cfg.Symbol, exitSide, qty, decimal.NewFromFloat(cfg.TrailingStopRate), cfg.WorkingType)
	if trailErr != nil {
		log.Printf("gridsentinel: %s: trailing stop placement failed, closing breakout entry: %v", cfg.Symbol, trailErr)
		c.Limiter.Wait(ctx)
		if _, err := c.Adapter.PlaceMarket(ctx, cfg.Symbol, exitSide, qty); err != nil {
			log.Printf("gridsentinel: %s: compensating close also failed: %v", cfg.Symbol, err)
		}
		sym.Lock()
		sym.ActiveBreakout = nil
		sym.Unlock()
		_ = c.Notifier.Notify(ctx, fmt.Sprintf("breakout entry on %s failed to protect, closed", cfg.Symbol))
		return nil
	}

	_ = c.Notifier.Notify(ctx, fmt.Sprintf("breakout %s opened on %s", strategy, cfg.Symbol))
	return nil
}
