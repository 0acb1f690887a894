// Package book implements the Order Book (C5): a durable, per-symbol record
// of the engine's intended orders, persisted as one JSON file per symbol.
//
// Grounded on original_source/file_utils.py's load_previous_orders /
// save_current_orders / clear_orders_file, adapted from the original's
// plain overwrite into the write-temp-then-rename atomic replace spec §4.5
// requires. A missing or corrupt file is treated as an empty book, matching
// file_utils.py's load_open_orders_from_file handling of FileNotFoundError
// and JSONDecodeError.
package book

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"

	"gridsentinel/internal/types"
)

// Record is a local order record: {order_id, price, side, quantity}.
type Record struct {
	OrderID  int64           `json:"order_id"`
	Price    decimal.Decimal `json:"price"`
	Side     types.Side      `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
}

// LimitOrders is the outer envelope used for stop-loss checks.
type LimitOrders struct {
	LowestBuy   *decimal.Decimal `json:"lowest_buy,omitempty"`
	HighestSell *decimal.Decimal `json:"highest_sell,omitempty"`
}

// Book is the persisted per-symbol document.
type Book struct {
	Orders      []Record    `json:"orders"`
	LimitOrders LimitOrders `json:"limit_orders"`
}

// Empty returns a zero-value book equal to {orders: [], limit_orders: {}}.
func Empty() Book {
	return Book{Orders: []Record{}, LimitOrders: LimitOrders{}}
}

// Store is the single-writer-per-symbol durable store, one file per symbol
// named "<SYMBOL>_open_orders.json" per spec §6.
type Store struct {
	dir string
}

// NewStore roots all books under dir (created if absent).
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("book: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(symbol string) string {
	return filepath.Join(s.dir, symbol+"_open_orders.json")
}

// Load reads a symbol's book. A missing or corrupt file is treated as an
// empty book rather than an error, per spec §7's Local I/O handling.
func (s *Store) Load(symbol string) Book {
	data, err := os.ReadFile(s.path(symbol))
	if err != nil {
		return Empty()
	}
	var b Book
	if err := json.Unmarshal(data, &b); err != nil {
		return Empty()
	}
	if b.Orders == nil {
		b.Orders = []Record{}
	}
	return b
}

// Save atomically replaces the symbol's persisted book: write to a temp
// file in the same directory, then rename over the target.
func (s *Store) Save(symbol string, b Book) error {
	if b.Orders == nil {
		b.Orders = []Record{}
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("book: marshal %s: %w", symbol, err)
	}

	target := s.path(symbol)
	tmp, err := os.CreateTemp(s.dir, symbol+"_open_orders.*.tmp")
	if err != nil {
		return fmt.Errorf("book: create temp for %s: %w", symbol, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("book: write temp for %s: %w", symbol, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("book: close temp for %s: %w", symbol, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("book: rename temp for %s: %w", symbol, err)
	}
	return nil
}

// Clear replaces a symbol's book with the empty book.
func (s *Store) Clear(symbol string) error {
	return s.Save(symbol, Empty())
}
