package api

import (
	"time"

	"arbengine/internal/config"
)

// DashboardSnapshot is the complete read-only state exposed by the status
// dashboard: one row per (venue, pair) leg the engine is trading, plus
// aggregate P&L, risk, and configuration.
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Legs []LegStatus `json:"legs"`

	TotalRealized   float64 `json:"total_realized"`
	TotalUnrealized float64 `json:"total_unrealized"`
	TotalPnL        float64 `json:"total_pnl"`

	Risk   RiskSnapshot   `json:"risk"`
	Config ConfigSummary  `json:"config"`
}

// LegStatus represents book and position state for one (venue, pair) leg.
type LegStatus struct {
	Venue string `json:"venue"`
	Pair  string `json:"pair"`

	BestBid     float64   `json:"best_bid"`
	BestAsk     float64   `json:"best_ask"`
	MidPrice    float64   `json:"mid_price"`
	Spread      float64   `json:"spread"`
	SpreadBps   float64   `json:"spread_bps"`
	LastUpdated time.Time `json:"last_updated"`
	IsStale     bool      `json:"is_stale"`

	Position PositionSnapshot `json:"position"`
}

// PositionSnapshot represents net position and P&L for one leg.
type PositionSnapshot struct {
	NetQtyBase    float64   `json:"net_qty_base"`
	AvgEntryPrice float64   `json:"avg_entry_price"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	ExposureUSD   float64   `json:"exposure_usd"`
	LastUpdated   time.Time `json:"last_updated"`
}

// RiskSnapshot represents aggregate risk metrics.
type RiskSnapshot struct {
	GlobalExposureUSD    float64   `json:"global_exposure_usd"`
	MaxGlobalExposureUSD float64   `json:"max_global_exposure_usd"`
	ExposurePct          float64   `json:"exposure_pct"`

	KillSwitchActive bool      `json:"kill_switch_active"`
	KillSwitchUntil  time.Time `json:"kill_switch_until,omitempty"`
	KillSwitchReason string    `json:"kill_switch_reason,omitempty"`

	TotalRealizedPnL   float64 `json:"total_realized_pnl"`
	TotalUnrealizedPnL float64 `json:"total_unrealized_pnl"`

	MaxPositionPerPairUSD float64 `json:"max_position_per_pair_usd"`
	MaxDailyLossUSD       float64 `json:"max_daily_loss_usd"`
	ActiveKeys            int     `json:"active_keys"`
}

// ConfigSummary represents the strategy and risk configuration driving the
// engine, for display on the dashboard.
type ConfigSummary struct {
	MinEdgeBps       float64 `json:"min_edge_bps"`
	OrderSizeBase    float64 `json:"order_size_base"`
	RefreshInterval  string  `json:"refresh_interval"`
	StaleBookTimeout string  `json:"stale_book_timeout"`

	MaxPositionPerPairUSD float64 `json:"max_position_per_pair_usd"`
	MaxGlobalExposureUSD  float64 `json:"max_global_exposure_usd"`
	KillSwitchDropPct     float64 `json:"kill_switch_drop_pct"`
	KillSwitchWindowSec   int     `json:"kill_switch_window_sec"`
	MaxDailyLossUSD       float64 `json:"max_daily_loss_usd"`
	CooldownAfterKill     string  `json:"cooldown_after_kill"`

	DryRun bool `json:"dry_run"`
}

// NewConfigSummary creates a config summary from the engine config.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		MinEdgeBps:       cfg.Arbitrage.MinEdgeBps,
		OrderSizeBase:    cfg.Arbitrage.OrderSizeBase,
		RefreshInterval:  cfg.Arbitrage.RefreshInterval.String(),
		StaleBookTimeout: cfg.Arbitrage.StaleBookTimeout.String(),

		MaxPositionPerPairUSD: cfg.Risk.MaxPositionPerPairUSD,
		MaxGlobalExposureUSD:  cfg.Risk.MaxGlobalExposureUSD,
		KillSwitchDropPct:     cfg.Risk.KillSwitchDropPct,
		KillSwitchWindowSec:   cfg.Risk.KillSwitchWindowSec,
		MaxDailyLossUSD:       cfg.Risk.MaxDailyLossUSD,
		CooldownAfterKill:     cfg.Risk.CooldownAfterKill.String(),

		DryRun: cfg.DryRun,
	}
}
