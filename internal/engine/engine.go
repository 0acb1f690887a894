// Package engine implements the Supervisor (C9): the per-iteration driver
// that reloads configuration, detects config changes and dropped symbols,
// evaluates the Gate per symbol, and dispatches to the Reconciler or the
// Breakout Controller.
//
// Grounded on original_source/main.py's loop (reload config each
// iteration, diff active/current symbols, compare previous_settings per
// symbol, per-symbol leverage+handle_grid_orders dispatch, sleep at loop
// end) and on main.go's top-level wiring style (construct every service
// once at startup, loop until signalled).
package engine

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"gridsentinel/internal/book"
	"gridsentinel/internal/breakout"
	"gridsentinel/internal/config"
	"gridsentinel/internal/gate"
	"gridsentinel/internal/metrics"
	"gridsentinel/internal/notify"
	"gridsentinel/internal/reconcile"
	"gridsentinel/internal/state"
	"gridsentinel/internal/types"
	"gridsentinel/internal/venue"
	"gridsentinel/internal/volatility"
)

const (
	passSleepMinSecs = 20
	passSleepMaxSecs = 30
)

// Engine owns the Config/VenueClient/bot-state map design note §9 asks for
// in place of the original's module-level globals.
type Engine struct {
	ConfigPath string

	Adapter    venue.Adapter
	Store      *book.Store
	Notifier   notify.Sink
	Reconciler *reconcile.Reconciler
	Breakout   *breakout.Controller

	States *state.Map
}

// New wires the Supervisor's collaborators.
func New(configPath string, adapter venue.Adapter, store *book.Store, notifier notify.Sink) *Engine {
	rec := reconcile.New(adapter, store, notifier)
	return &Engine{
		ConfigPath: configPath,
		Adapter:    adapter,
		Store:      store,
		Notifier:   notifier,
		Reconciler: rec,
		Breakout:   breakout.New(adapter, notifier, rec.Limiter),
		States:     state.NewMap(),
	}
}

// Run drives passes until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		if err := e.pass(ctx); err != nil {
			if err == reconcile.ErrFatalMargin {
				e.ResetAll(ctx)
				os.Exit(1)
			}
			log.Printf("gridsentinel: pass error: %v", err)
		}

		sleep := time.Duration(passSleepMinSecs+rand.Intn(passSleepMaxSecs-passSleepMinSecs+1)) * time.Second
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// pass is one Supervisor iteration across every configured symbol.
func (e *Engine) pass(ctx context.Context) error {
	passID := uuid.NewString()

	doc, err := config.LoadDocument(e.ConfigPath)
	if err != nil {
		log.Printf("gridsentinel: pass %s: config load failed: %v", passID, err)
		return nil
	}

	current := make(map[string]bool, len(doc.CryptoSettings))
	for sym := range doc.CryptoSettings {
		current[sym] = true
	}

	for _, sym := range e.States.Symbols() {
		if !current[sym] {
			st := e.States.Get(sym)
			_ = e.Reconciler.Reset(ctx, sym, st, "symbol_removed")
			e.States.Delete(sym)
		}
	}

	// A plain Group: one symbol's error does not cancel the other symbols'
	// passes. A fatal margin error from any symbol takes precedence over
	// whichever error Wait reports first.
	var g errgroup.Group
	var fatal atomic.Bool
	for symbol, cfg := range doc.CryptoSettings {
		symbol, cfg := symbol, cfg
		g.Go(func() error {
			err := e.runSymbol(ctx, passID, cfg, symbol)
			if err == reconcile.ErrFatalMargin {
				fatal.Store(true)
			}
			return err
		})
	}
	err = g.Wait()
	if fatal.Load() {
		return reconcile.ErrFatalMargin
	}
	return err
}

// runSymbol evaluates one symbol's config-change detection, gate decision,
// and Reconciler/Breakout dispatch.
func (e *Engine) runSymbol(ctx context.Context, passID string, cfg config.SymbolConfig, symbol string) error {
	start := time.Now()
	defer func() {
		metrics.PassDuration.WithLabelValues(symbol).Observe(time.Since(start).Seconds())
	}()

	// A given symbol is only ever driven by one goroutine at a time (one
	// pass completes fully before the next begins), so the fields below
	// need no additional locking beyond what Reconciler.Reset and the
	// state.Symbol accessors already take for their own critical
	// sections — matching spec §5's "per-symbol logical locks" without
	// nesting locks across a Reconciler call.
	st := e.States.Get(symbol)

	hash := cfg.Hash()
	if st.LastConfigHash != 0 && st.LastConfigHash != hash {
		log.Printf("gridsentinel: pass %s: %s config changed, resetting", passID, symbol)
		if err := e.Reconciler.Reset(ctx, symbol, st, "config_changed"); err != nil {
			return err
		}
	}
	if st.LastConfigHash == 0 {
		e.seedGateActive(ctx, symbol, st)
	}
	st.LastConfigHash = hash

	if err := e.ensureLeverage(ctx, symbol, cfg); err != nil {
		log.Printf("gridsentinel: pass %s: %s leverage/margin setup failed: %v", passID, symbol, err)
	}

	decision, err := e.evaluateGate(ctx, cfg, st)
	if err != nil {
		log.Printf("gridsentinel: pass %s: %s gate evaluation failed: %v", passID, symbol, err)
		return nil
	}

	if decision.Action != types.GateContinue {
		metrics.GateTransitions.WithLabelValues(symbol, string(decision.Action)).Inc()
	}
	st.GateActive = decision.Active

	if decision.Active {
		return e.Reconciler.Run(ctx, cfg, st)
	}
	return e.Breakout.Run(ctx, cfg, st, decision.Strategy)
}

// seedGateActive implements the bot-state lifecycle of spec §3: initialised
// at startup from the existence of remote open orders.
func (e *Engine) seedGateActive(ctx context.Context, symbol string, st *state.Symbol) {
	orders, err := e.Adapter.OpenOrders(ctx, symbol)
	if err != nil {
		return
	}
	st.GateActive = len(orders) > 0
}

func (e *Engine) ensureLeverage(ctx context.Context, symbol string, cfg config.SymbolConfig) error {
	if cfg.Leverage > 0 {
		if err := e.Adapter.SetLeverage(ctx, symbol, cfg.Leverage); err != nil {
			return err
		}
	}
	if cfg.MarginType != "" {
		if err := e.Adapter.SetMarginType(ctx, symbol, cfg.MarginType); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) evaluateGate(ctx context.Context, cfg config.SymbolConfig, st *state.Symbol) (gate.Decision, error) {
	candles, err := e.Adapter.Klines(ctx, cfg.Symbol, cfg.KlinesInterval, cfg.BBPeriod)
	if err != nil {
		return gate.Decision{}, err
	}
	bands, err := volatility.Compute(candles, cfg.BBPeriod)
	if err != nil {
		return gate.Decision{}, err
	}
	bbwFloat, _ := bands.BBW.Float64()
	metrics.LastBBW.WithLabelValues(cfg.Symbol).Set(bbwFloat)

	lastClose := candles[len(candles)-1].Close
	threshold := decimal.NewFromFloat(cfg.BBWThreshold)

	return gate.Evaluate(bands.BBW, threshold, st.GateActive, cfg.Mode, lastClose, bands), nil
}

// ResetAll resets every currently tracked symbol; used on a fatal margin
// error (spec §7: "reset every configured symbol; terminate process").
func (e *Engine) ResetAll(ctx context.Context) {
	for _, sym := range e.States.Symbols() {
		st := e.States.Get(sym)
		if err := e.Reconciler.Reset(ctx, sym, st, "fatal_margin"); err != nil {
			log.Printf("gridsentinel: failed to reset %s during fatal shutdown: %v", sym, err)
		}
	}
	_ = e.Notifier.Notify(ctx, fmt.Sprintf("fatal margin error: %d symbols reset, process terminating", len(e.States.Symbols())))
}
