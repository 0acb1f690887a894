// Package config loads the engine's two configuration documents: a secrets
// file (api key/secret/base url) read via godotenv, matching the teacher's
// config/loader.go, and a per-symbol parameter document read via yaml.v3,
// the shape original_source/config.py's crypto_settings dict describes.
// The per-symbol document is re-read every Supervisor pass; the secrets
// file is read once at startup and is not reloaded.
package config

import (
	"fmt"
	"hash/fnv"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gridsentinel/internal/types"
)

// Secrets holds venue credentials, loaded once at startup the way the
// teacher's LoadConfig reads BINANCE_API_KEY / BINANCE_API_SECRET (with a
// BINANCE_SECRET_KEY fallback). Changes to them take effect only on restart.
type Secrets struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Testnet   bool
}

// LoadSecrets reads secrets.env (falling back to the process environment
// when the file is absent, as godotenv.Load already does).
func LoadSecrets(path string) (Secrets, error) {
	if path == "" {
		path = "secrets.env"
	}
	if err := godotenv.Load(path); err != nil {
		// Absent .env is not fatal: the teacher logs a warning and relies
		// on ambient environment variables instead.
	}

	apiKey := os.Getenv("BINANCE_API_KEY")
	apiSecret := os.Getenv("BINANCE_API_SECRET")
	if apiSecret == "" {
		apiSecret = os.Getenv("BINANCE_SECRET_KEY")
	}
	if apiKey == "" || apiSecret == "" {
		return Secrets{}, fmt.Errorf("config: BINANCE_API_KEY/BINANCE_API_SECRET missing")
	}

	baseURL := os.Getenv("BINANCE_BASE_URL")
	testnet := os.Getenv("BINANCE_TESTNET") == "true"

	return Secrets{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
		Testnet:   testnet,
	}, nil
}

// SymbolConfig is one entry of crypto_settings: symbol → params (spec §6).
type SymbolConfig struct {
	Symbol             string            `yaml:"symbol"`
	Leverage           int               `yaml:"leverage"`
	GridLevels         int               `yaml:"grid_levels"`
	OrderQuantity      float64           `yaml:"order_quantity"`
	WorkingType        types.WorkingType `yaml:"working_type"`
	ProgressiveGrid    bool              `yaml:"progressive_grid"`
	GridProgression    float64           `yaml:"grid_progression"`
	TrailingStopRate   float64           `yaml:"trailing_stop_rate"`
	BBWThreshold       float64           `yaml:"bbw_threshold"`
	BBPeriod           int               `yaml:"bb_period"`
	KlinesInterval     string            `yaml:"klines_interval"`
	Mode               types.Mode        `yaml:"mode"`
	SpacingPercentage  float64           `yaml:"spacing_percentage"`
	BollingerBounded   bool              `yaml:"bollinger_bounded"`
	MarginType         string            `yaml:"margin_type"`
	QuantityMultiplier float64           `yaml:"quantity_multiplier"`
}

// Document is the top-level config.yaml shape.
type Document struct {
	CryptoSettings map[string]SymbolConfig `yaml:"crypto_settings"`
}

// LoadDocument reads and parses config.yaml.
func LoadDocument(path string) (Document, error) {
	if path == "" {
		path = "config.yaml"
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	for sym, cfg := range doc.CryptoSettings {
		if cfg.Symbol == "" {
			cfg.Symbol = sym
			doc.CryptoSettings[sym] = cfg
		}
		if cfg.QuantityMultiplier == 0 {
			cfg.QuantityMultiplier = 1
			doc.CryptoSettings[sym] = cfg
		}
		if cfg.MarginType == "" {
			cfg.MarginType = "CROSS"
			doc.CryptoSettings[sym] = cfg
		}
		if cfg.BBPeriod == 0 {
			cfg.BBPeriod = 20
			doc.CryptoSettings[sym] = cfg
		}
	}
	return doc, nil
}

// Hash returns a deterministic fingerprint of a SymbolConfig, used by the
// Supervisor to detect a parameter change between passes (spec §4.9).
func (c SymbolConfig) Hash() uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d|%f|%s|%t|%f|%f|%f|%d|%s|%s|%f|%t|%s|%f",
		c.Symbol, c.Leverage, c.GridLevels, c.OrderQuantity, c.WorkingType,
		c.ProgressiveGrid, c.GridProgression, c.TrailingStopRate, c.BBWThreshold, c.BBPeriod,
		c.KlinesInterval, c.Mode, c.SpacingPercentage, c.BollingerBounded,
		c.MarginType, c.QuantityMultiplier)
	return h.Sum64()
}
