// Package config defines all configuration for the backtesting broker.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via BACKTEST_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool            `mapstructure:"dry_run"`
	ResultsDir string          `mapstructure:"results_dir"`
	Backtest   BacktestConfig  `mapstructure:"backtest"`
	Asset      AssetConfig     `mapstructure:"asset"`
	Fees       FeeConfig       `mapstructure:"fees"`
	Cache      CacheConfig     `mapstructure:"cache"`
	Vendor     VendorConfig    `mapstructure:"vendor"`
	Logging    LoggingConfig   `mapstructure:"logging"`
	Dashboard  DashboardConfig `mapstructure:"dashboard"`
}

// BacktestConfig bounds the simulated run and names the trading calendar
// and bar granularity the data source serves.
type BacktestConfig struct {
	Market               string    `mapstructure:"market"` // NYSE, CME_FX, or 24/7
	Start                time.Time `mapstructure:"start"`
	End                  time.Time `mapstructure:"end"`
	Timestep             string    `mapstructure:"timestep"` // minute or day
	SleepSeconds         int       `mapstructure:"sleep_seconds"`
	InitialCash          float64   `mapstructure:"initial_cash"`
	MinutesBeforeClosing int       `mapstructure:"minutes_before_closing"`
}

// AssetConfig names the single instrument the reference strategy trades.
// Option fields are only meaningful when Type is "option".
type AssetConfig struct {
	Symbol     string  `mapstructure:"symbol"`
	Type       string  `mapstructure:"type"`
	Expiration string  `mapstructure:"expiration"` // YYYY-MM-DD, options only
	Strike     float64 `mapstructure:"strike"`
	Right      string  `mapstructure:"right"` // CALL or PUT
	Multiplier int     `mapstructure:"multiplier"`
}

// FeeConfig holds the per-trade cost model: separate fee
// schedules for buys and sells, each a list of (flat_fee, percent_fee,
// taker, maker) line items.
type FeeConfig struct {
	Buy  []TradingFeeConfig `mapstructure:"buy"`
	Sell []TradingFeeConfig `mapstructure:"sell"`
}

type TradingFeeConfig struct {
	FlatFee    float64 `mapstructure:"flat_fee"`
	PercentFee float64 `mapstructure:"percent_fee"`
	Taker      bool    `mapstructure:"taker"`
	Maker      bool    `mapstructure:"maker"`
}

// CacheConfig points at the embedded DuckDB file backing internal/cache's
// columnar OHLCV bar store.
type CacheConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// VendorConfig configures the ThetaData-shaped REST client used to fill
// cache gaps.
type VendorConfig struct {
	BaseURL       string  `mapstructure:"base_url"`
	RequestBurst  float64 `mapstructure:"request_burst"`
	RequestPerSec float64 `mapstructure:"request_per_sec"`
	MaxWorkers    int     `mapstructure:"max_workers"` // cap on concurrent cache-fill fetches
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the live progress web dashboard.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if path := os.Getenv("BACKTEST_CACHE_DB_PATH"); path != "" {
		cfg.Cache.DBPath = path
	}
	if os.Getenv("BACKTEST_DRY_RUN") == "true" || os.Getenv("BACKTEST_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges. A validation
// failure is fatal: the caller logs it and exits before any component is
// constructed.
func (c *Config) Validate() error {
	switch c.Backtest.Market {
	case "NYSE", "CME_FX", "24/7":
	default:
		return fmt.Errorf("backtest.market must be one of NYSE, CME_FX, 24/7, got %q", c.Backtest.Market)
	}
	if c.Backtest.Start.IsZero() || c.Backtest.End.IsZero() {
		return fmt.Errorf("backtest.start and backtest.end are required")
	}
	if !c.Backtest.End.After(c.Backtest.Start) {
		return fmt.Errorf("backtest.end must be after backtest.start")
	}
	switch c.Backtest.Timestep {
	case "minute", "day":
	default:
		return fmt.Errorf("backtest.timestep must be \"minute\" or \"day\", got %q", c.Backtest.Timestep)
	}
	if c.Backtest.InitialCash <= 0 {
		return fmt.Errorf("backtest.initial_cash must be > 0")
	}
	if c.Asset.Symbol == "" {
		return fmt.Errorf("asset.symbol is required")
	}
	switch c.Asset.Type {
	case "stock", "option", "forex", "crypto":
	default:
		return fmt.Errorf("asset.type must be one of stock, option, forex, crypto, got %q", c.Asset.Type)
	}
	if c.Asset.Type == "option" {
		if c.Asset.Expiration == "" {
			return fmt.Errorf("asset.expiration is required for option assets")
		}
		switch c.Asset.Right {
		case "CALL", "PUT":
		default:
			return fmt.Errorf("asset.right must be CALL or PUT for option assets, got %q", c.Asset.Right)
		}
	}
	return nil
}
