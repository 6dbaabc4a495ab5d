package api

import (
	"time"

	"arbengine/internal/config"
	"arbengine/internal/risk"
)

// KeySnapshotProvider supplies the per-leg and risk state the dashboard
// reports on. The engine implements this (and DashboardEvents(), asserted
// separately by Server.consumeEvents).
type KeySnapshotProvider interface {
	GetLegSnapshot() []LegStatus
	GetRiskManager() *risk.Manager
}

// BuildSnapshot aggregates state from all components into a dashboard
// snapshot.
func BuildSnapshot(provider KeySnapshotProvider, cfg config.Config) DashboardSnapshot {
	legs := provider.GetLegSnapshot()

	riskSnap := provider.GetRiskManager().Snapshot()

	var totalRealized, totalUnrealized float64
	for _, leg := range legs {
		totalRealized += leg.Position.RealizedPnL
		totalUnrealized += leg.Position.UnrealizedPnL
	}

	return DashboardSnapshot{
		Timestamp:       time.Now(),
		Legs:            legs,
		TotalRealized:   totalRealized,
		TotalUnrealized: totalUnrealized,
		TotalPnL:        totalRealized + totalUnrealized,
		Risk:            convertRiskSnapshot(riskSnap),
		Config:          NewConfigSummary(cfg),
	}
}

// convertRiskSnapshot converts the internal risk snapshot to the API format.
func convertRiskSnapshot(snap risk.Snapshot) RiskSnapshot {
	return RiskSnapshot{
		GlobalExposureUSD:     snap.GlobalExposureUSD,
		MaxGlobalExposureUSD:  snap.MaxGlobalExposureUSD,
		ExposurePct:           snap.ExposurePct,
		KillSwitchActive:      snap.KillSwitchActive,
		KillSwitchUntil:       snap.KillSwitchUntil,
		KillSwitchReason:      snap.KillSwitchReason,
		TotalRealizedPnL:      snap.TotalRealizedPnL,
		TotalUnrealizedPnL:    snap.TotalUnrealizedPnL,
		MaxPositionPerPairUSD: snap.MaxPositionPerPairUSD,
		MaxDailyLossUSD:       snap.MaxDailyLossUSD,
		ActiveKeys:            snap.ActiveKeys,
	}
}
