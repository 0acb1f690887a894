package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// PriceFeed is the typed publisher design note §9 calls for in place of
// "WebSocket callbacks with shared mutable maps": the Reconciler reads an
// atomically-updated latest_price cell per symbol rather than touching a
// shared map directly. The map itself is still keyed by symbol internally
// (mirroring hub.go's PriceThrottler.lastPrices), but is only ever mutated
// by the stream goroutine and read through Load.
type PriceFeed struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewPriceFeed builds an empty feed.
func NewPriceFeed() *PriceFeed {
	return &PriceFeed{prices: make(map[string]decimal.Decimal)}
}

// Load returns the last trade price for symbol, if any sample has arrived.
func (f *PriceFeed) Load(symbol string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[symbol]
	return p, ok
}

func (f *PriceFeed) store(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	f.prices[symbol] = price
	f.mu.Unlock()
}

type tradeEvent struct {
	Symbol string `json:"s"`
	Price  string `json:"p"`
}

type combinedStreamFrame struct {
	Stream string          `json:"stream"`
	Data   tradeEvent      `json:"data"`
}

// Subscriber maintains the combined @trade stream and republishes into a
// PriceFeed. Reconnects after a fixed back-off per spec §5: "a background
// task with automatic reconnection after a fixed back-off."
type Subscriber struct {
	host    string
	symbols []string
	feed    *PriceFeed
	backoff time.Duration
}

// NewSubscriber builds a Subscriber for the given combined-stream host
// (e.g. "fstream.binance.com").
func NewSubscriber(host string, symbols []string, feed *PriceFeed) *Subscriber {
	return &Subscriber{host: host, symbols: symbols, feed: feed, backoff: 5 * time.Second}
}

// Run dials the stream and republishes trade ticks until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) {
	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	url := fmt.Sprintf("wss://%s/stream?streams=%s", s.host, strings.Join(streams, "/"))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.runOnce(ctx, url); err != nil {
			log.Printf("venue: price stream error: %v (reconnecting in %s)", err, s.backoff)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoff):
		}
	}
}

func (s *Subscriber) runOnce(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame combinedStreamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		price, err := decimal.NewFromString(frame.Data.Price)
		if err != nil {
			continue
		}
		s.feed.store(frame.Data.Symbol, price)
	}
}
