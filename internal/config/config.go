// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// credentials overridable via ARB_*/COINBASE_*/BINANCE_* environment
// variables, following the teacher's internal/config/config.go pattern
// (viper.New, SetEnvPrefix, mapstructure tags, manual override of
// sensitive fields).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, mapping directly to the YAML file.
type Config struct {
	DryRun    bool            `mapstructure:"dry_run"`
	Coinbase  ExchangeConfig  `mapstructure:"coinbase"`
	Binance   ExchangeConfig  `mapstructure:"binance"`
	Pairs     []string        `mapstructure:"pairs"` // e.g. "BTC-USD", matched across both venues
	Arbitrage ArbitrageConfig `mapstructure:"arbitrage"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// ExchangeConfig holds one venue's endpoints and credentials.
type ExchangeConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	RESTBase  string `mapstructure:"rest_base"`
	WSURL     string `mapstructure:"ws_url"`
}

// ArbitrageConfig tunes the cross-venue arbitrage strategy (spec §10
// supplemented feature, grounded on original_source/include/trader.h's
// ArbritrageTrader stub).
//
//   - MinEdgeBps: minimum (bid_A - ask_B) / ask_B spread, in basis points,
//     required before an opportunity is acted on.
//   - OrderSizeBase: size in base-asset units submitted per leg.
//   - RefreshInterval: cooldown after the strategy submits an opportunity,
//     during which it skips new ones.
//   - StaleBookTimeout: ignore books not updated within this window.
type ArbitrageConfig struct {
	MinEdgeBps       float64       `mapstructure:"min_edge_bps"`
	OrderSizeBase    float64       `mapstructure:"order_size_base"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	StaleBookTimeout time.Duration `mapstructure:"stale_book_timeout"`
}

// RiskConfig sets hard limits that trigger the kill switch (adapted from
// the teacher's internal/risk, see SPEC_FULL.md §10).
type RiskConfig struct {
	MaxPositionPerPairUSD float64       `mapstructure:"max_position_per_pair_usd"`
	MaxGlobalExposureUSD  float64       `mapstructure:"max_global_exposure_usd"`
	KillSwitchDropPct     float64       `mapstructure:"kill_switch_drop_pct"`
	KillSwitchWindowSec   int           `mapstructure:"kill_switch_window_sec"`
	MaxDailyLossUSD       float64       `mapstructure:"max_daily_loss_usd"`
	CooldownAfterKill     time.Duration `mapstructure:"cooldown_after_kill"`
}

// StoreConfig sets where position data is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig controls the slog handler used by cmd/arbengine.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the read-only status HTTP/WS server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides. Sensitive
// fields use COINBASE_API_KEY, COINBASE_API_SECRET, BINANCE_API_KEY,
// BINANCE_API_SECRET (spec §6); ARB_DRY_RUN overrides dry_run.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("COINBASE_API_KEY"); key != "" {
		cfg.Coinbase.APIKey = key
	}
	if secret := os.Getenv("COINBASE_API_SECRET"); secret != "" {
		cfg.Coinbase.APISecret = secret
	}
	if key := os.Getenv("BINANCE_API_KEY"); key != "" {
		cfg.Binance.APIKey = key
	}
	if secret := os.Getenv("BINANCE_API_SECRET"); secret != "" {
		cfg.Binance.APISecret = secret
	}
	if dr := os.Getenv("ARB_DRY_RUN"); dr == "true" || dr == "1" {
		cfg.DryRun = true
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Coinbase.RESTBase == "" {
		cfg.Coinbase.RESTBase = "https://api.coinbase.com"
	}
	if cfg.Coinbase.WSURL == "" {
		cfg.Coinbase.WSURL = "wss://advanced-trade-ws.coinbase.com"
	}
	if cfg.Binance.RESTBase == "" {
		cfg.Binance.RESTBase = "https://www.binance.us"
	}
	if cfg.Binance.WSURL == "" {
		cfg.Binance.WSURL = "wss://stream.binance.us:9443/stream"
	}
	if cfg.Arbitrage.RefreshInterval == 0 {
		cfg.Arbitrage.RefreshInterval = time.Second
	}
	if cfg.Arbitrage.StaleBookTimeout == 0 {
		cfg.Arbitrage.StaleBookTimeout = 10 * time.Second
	}
	if cfg.Risk.CooldownAfterKill == 0 {
		cfg.Risk.CooldownAfterKill = 5 * time.Minute
	}
	if cfg.Risk.KillSwitchWindowSec == 0 {
		cfg.Risk.KillSwitchWindowSec = 30
	}
}

// Validate checks all required fields and value ranges. Credentials are
// required even in dry-run mode since market feeds still need them for
// signed subscriptions.
func (c *Config) Validate() error {
	if c.Coinbase.APIKey == "" || c.Coinbase.APISecret == "" {
		return fmt.Errorf("coinbase credentials are required (set COINBASE_API_KEY / COINBASE_API_SECRET)")
	}
	if c.Binance.APIKey == "" || c.Binance.APISecret == "" {
		return fmt.Errorf("binance credentials are required (set BINANCE_API_KEY / BINANCE_API_SECRET)")
	}
	if len(c.Pairs) == 0 {
		return fmt.Errorf("pairs must list at least one instrument pair")
	}
	if c.Arbitrage.OrderSizeBase <= 0 {
		return fmt.Errorf("arbitrage.order_size_base must be > 0")
	}
	if c.Arbitrage.MinEdgeBps <= 0 {
		return fmt.Errorf("arbitrage.min_edge_bps must be > 0")
	}
	if c.Risk.MaxGlobalExposureUSD <= 0 {
		return fmt.Errorf("risk.max_global_exposure_usd must be > 0")
	}
	return nil
}
