package book

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"gridsentinel/internal/types"
)

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	b := store.Load("BTCUSDT")
	require.Equal(t, Empty(), b)
}

func TestLoadCorruptFileReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "BTCUSDT_open_orders.json"), []byte("not json"), 0o644))

	b := store.Load("BTCUSDT")
	require.Equal(t, Empty(), b)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	want := Book{
		Orders: []Record{
			{OrderID: 1, Price: decimal.NewFromFloat(99.5), Side: types.Buy, Quantity: decimal.NewFromFloat(0.5)},
		},
	}
	require.NoError(t, store.Save("ETHUSDT", want))

	got := store.Load("ETHUSDT")
	require.Len(t, got.Orders, 1)
	require.Equal(t, want.Orders[0].OrderID, got.Orders[0].OrderID)
	require.True(t, want.Orders[0].Price.Equal(got.Orders[0].Price))
	require.Equal(t, want.Orders[0].Side, got.Orders[0].Side)
}

func TestSaveLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save("BTCUSDT", Empty()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "BTCUSDT_open_orders.json", entries[0].Name())
}

func TestClearResetsToEmpty(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	b := Book{Orders: []Record{{OrderID: 7, Side: types.Sell}}}
	require.NoError(t, store.Save("BTCUSDT", b))
	require.NoError(t, store.Clear("BTCUSDT"))

	require.Equal(t, Empty(), store.Load("BTCUSDT"))
}
