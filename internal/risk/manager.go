// Package risk enforces portfolio-level risk limits across every (venue,
// pair) the arbitrage engine trades.
//
// The risk manager runs as a standalone goroutine that receives
// PositionReports from the strategy loop after each arbitrage cycle and
// checks them against configured limits:
//
//   - Per-pair exposure:    caps USD notional held against any single
//     (venue, pair) key
//   - Global exposure:      caps total USD notional across every key
//   - Daily loss:           triggers the kill switch if realized+unrealized
//     PnL falls below -MaxDailyLossUSD
//   - Rapid price movement: triggers the kill switch if a key's mid price
//     moves more than KillSwitchDropPct within KillSwitchWindowSec seconds
//     (this is the cross-venue analogue of a single feed going haywire —
//     it catches a bad tick or a flash move before the arbitrage trader
//     acts on it)
//
// When a limit is breached, the manager emits a KillSignal on KillCh(). The
// engine logs each signal and forwards it to the dashboard; it does not
// cancel orders. After a kill, the kill switch stays active for
// CooldownAfterKill, during which the strategy skips new opportunities.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"arbengine/internal/config"
)

// PositionReport is sent by the strategy loop after evaluating one (venue,
// pair) key. It contains the current net position and PnL for risk
// evaluation.
type PositionReport struct {
	Key           string  // "venue:pair", e.g. "coinbase:BTC/USD"
	NetQtyBase    float64 // signed net base-asset quantity held at this key
	MidPrice      float64 // current mid price, used for price-movement detection
	ExposureUSD   float64 // abs(NetQtyBase) * MidPrice
	UnrealizedPnL float64
	RealizedPnL   float64
	Timestamp     time.Time
}

// KillSignal reports a breached limit to the engine. If Key is empty, the
// breach is global rather than tied to one key.
type KillSignal struct {
	Key    string
	Reason string
}

// priceSample is one (mid price, timestamp) observation kept in a key's
// sliding window for rapid-movement detection.
type priceSample struct {
	price float64
	at    time.Time
}

// Manager enforces risk limits across all active (venue, pair) keys. It
// aggregates position reports, checks limits, and emits kill signals when
// breached. The three portfolio-wide totals are maintained incrementally as
// reports arrive rather than recomputed by scanning every key on each call.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu                 sync.RWMutex
	positions          map[string]PositionReport // latest report per key
	totalExposure      float64                   // sum of all ExposureUSD
	totalRealizedPnL   float64                   // sum of all RealizedPnL
	totalUnrealizedPnL float64                   // sum of all UnrealizedPnL
	killSwitchActive   bool                      // true while in cooldown
	killSwitchUntil    time.Time                 // when cooldown expires
	priceWindows       map[string][]priceSample  // samples within KillSwitchWindowSec per key

	reportCh chan PositionReport // strategy goroutine writes here
	killCh   chan KillSignal     // engine reads kill signals from here
}

// NewManager creates a risk manager.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		logger:       logger.With("component", "risk"),
		positions:    make(map[string]PositionReport),
		priceWindows: make(map[string][]priceSample),
		reportCh:     make(chan PositionReport, 100),
		killCh:       make(chan KillSignal, 10),
	}
}

// Run starts the risk monitoring loop.
func (rm *Manager) Run(ctx context.Context) {
	// Periodic check clears the kill switch even when no reports arrive.
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case report := <-rm.reportCh:
			rm.processReport(report)
		case <-ticker.C:
			rm.clearExpiredKillSwitch()
		}
	}
}

// Report submits a position report (non-blocking).
func (rm *Manager) Report(report PositionReport) {
	select {
	case rm.reportCh <- report:
	default:
		rm.logger.Warn("risk report channel full, dropping report", "key", report.Key)
	}
}

// KillCh returns the channel for reading kill signals.
func (rm *Manager) KillCh() <-chan KillSignal {
	return rm.killCh
}

// RemoveKey cleans up state for a key the engine stopped trading, backing
// its last-known contribution out of the running totals.
func (rm *Manager) RemoveKey(key string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.subtractLocked(key)
	delete(rm.positions, key)
	delete(rm.priceWindows, key)
}

// subtractLocked removes key's last reported contribution from the running
// totals, if any. Caller holds rm.mu.
func (rm *Manager) subtractLocked(key string) {
	prev, ok := rm.positions[key]
	if !ok {
		return
	}
	rm.totalExposure -= prev.ExposureUSD
	rm.totalRealizedPnL -= prev.RealizedPnL
	rm.totalUnrealizedPnL -= prev.UnrealizedPnL
}

// IsKillSwitchActive returns whether the kill switch is engaged.
func (rm *Manager) IsKillSwitchActive() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if !rm.killSwitchActive {
		return false
	}
	if time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
		return false
	}
	return true
}

// RemainingBudget returns how much additional USD exposure is allowed for
// the given key. It takes the minimum of:
//   - per-key headroom: MaxPositionPerPairUSD − current key exposure
//   - global headroom:  MaxGlobalExposureUSD − total exposure across all keys
//
// Returns 0 if either limit is already exceeded (the strategy skips the
// opportunity).
func (rm *Manager) RemainingBudget(key string) float64 {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var currentExposure float64
	if pos, ok := rm.positions[key]; ok {
		currentExposure = pos.ExposureUSD
	}

	perKey := rm.cfg.MaxPositionPerPairUSD - currentExposure
	global := rm.cfg.MaxGlobalExposureUSD - rm.totalExposure

	remaining := perKey
	if global < remaining {
		remaining = global
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Snapshot returns current aggregate risk metrics for the status dashboard.
func (rm *Manager) Snapshot() Snapshot {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	var exposurePct float64
	if rm.cfg.MaxGlobalExposureUSD > 0 {
		exposurePct = (rm.totalExposure / rm.cfg.MaxGlobalExposureUSD) * 100
	}

	var killReason string
	if rm.killSwitchActive {
		killReason = "cooldown"
	}

	return Snapshot{
		GlobalExposureUSD:     rm.totalExposure,
		MaxGlobalExposureUSD:  rm.cfg.MaxGlobalExposureUSD,
		ExposurePct:           exposurePct,
		KillSwitchActive:      rm.killSwitchActive,
		KillSwitchUntil:       rm.killSwitchUntil,
		KillSwitchReason:      killReason,
		TotalRealizedPnL:      rm.totalRealizedPnL,
		TotalUnrealizedPnL:    rm.totalUnrealizedPnL,
		MaxPositionPerPairUSD: rm.cfg.MaxPositionPerPairUSD,
		MaxDailyLossUSD:       rm.cfg.MaxDailyLossUSD,
		ActiveKeys:            len(rm.positions),
	}
}

// Snapshot represents aggregate risk metrics exposed to the status
// dashboard.
type Snapshot struct {
	GlobalExposureUSD     float64
	MaxGlobalExposureUSD  float64
	ExposurePct           float64
	KillSwitchActive      bool
	KillSwitchUntil       time.Time
	KillSwitchReason      string
	TotalRealizedPnL      float64
	TotalUnrealizedPnL    float64
	MaxPositionPerPairUSD float64
	MaxDailyLossUSD       float64
	ActiveKeys            int
}

// processReport folds one key's report into the running totals and checks
// every limit against the updated state. Replacing the prior report's
// contribution (rather than re-summing every key on every call) keeps this
// O(1) in the number of active keys instead of O(n).
func (rm *Manager) processReport(report PositionReport) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.subtractLocked(report.Key)
	rm.positions[report.Key] = report
	rm.totalExposure += report.ExposureUSD
	rm.totalRealizedPnL += report.RealizedPnL
	rm.totalUnrealizedPnL += report.UnrealizedPnL

	rm.checkLimitsLocked(report)
	rm.checkPriceMovementLocked(report)
}

// checkLimitsLocked evaluates the per-pair, global-exposure, and daily-loss
// limits against the totals processReport just updated. The three checks
// are independent: a report that breaches more than one limit at once emits
// a kill for each, rather than only the first matched. Caller holds rm.mu.
func (rm *Manager) checkLimitsLocked(report PositionReport) {
	if report.ExposureUSD > rm.cfg.MaxPositionPerPairUSD {
		rm.emitKill(report.Key, "per-pair position limit breached")
	}
	if rm.totalExposure > rm.cfg.MaxGlobalExposureUSD {
		rm.emitKill("", "global exposure limit breached")
	}
	if rm.totalRealizedPnL+rm.totalUnrealizedPnL < -rm.cfg.MaxDailyLossUSD {
		rm.emitKill("", "max daily loss breached")
	}
}

// checkPriceMovementLocked detects rapid price swings with a pruned sliding
// window of samples per key, rather than a single anchor that only resets
// once it has gone fully stale: every call first drops samples older than
// KillSwitchWindowSec, then compares the current price against whichever
// sample is now the oldest survivor in the window. That sample is the
// earliest one at most KillSwitchWindowSec old (the current report itself
// when no older sample survives), so the comparison reflects the true move across the whole window instead
// of drifting from whatever price happened to be current when the anchor
// was last reset. Caller holds rm.mu.
func (rm *Manager) checkPriceMovementLocked(report PositionReport) {
	window := time.Duration(rm.cfg.KillSwitchWindowSec) * time.Second
	cutoff := report.Timestamp.Add(-window)

	samples := append(rm.priceWindows[report.Key], priceSample{price: report.MidPrice, at: report.Timestamp})
	start := 0
	for start < len(samples) && samples[start].at.Before(cutoff) {
		start++
	}
	samples = samples[start:]
	rm.priceWindows[report.Key] = samples

	reference := samples[0].price
	if reference == 0 {
		return
	}

	pctChange := (report.MidPrice - reference) / reference
	if pctChange < 0 {
		pctChange = -pctChange
	}

	if pctChange > rm.cfg.KillSwitchDropPct {
		rm.emitKill(report.Key, fmt.Sprintf(
			"rapid price movement: %.1f%% in %ds",
			pctChange*100, rm.cfg.KillSwitchWindowSec,
		))
	}
}

func (rm *Manager) clearExpiredKillSwitch() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.killSwitchActive && time.Now().After(rm.killSwitchUntil) {
		rm.killSwitchActive = false
		rm.logger.Info("kill switch cooldown expired")
	}
}

// emitKill activates the kill switch, starts the cooldown timer, and sends
// a KillSignal to the engine. If the kill channel is full, it drains the
// stale signal first so the latest kill reason always gets delivered.
func (rm *Manager) emitKill(key, reason string) {
	rm.killSwitchActive = true
	rm.killSwitchUntil = time.Now().Add(rm.cfg.CooldownAfterKill)

	rm.logger.Error("KILL SWITCH", "key", key, "reason", reason, "cooldown_until", rm.killSwitchUntil)

	sig := KillSignal{Key: key, Reason: reason}
	select {
	case rm.killCh <- sig:
	default:
		select {
		case <-rm.killCh:
		default:
		}
		rm.killCh <- sig
	}
}
