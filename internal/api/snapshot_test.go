package api

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"arbengine/internal/config"
	"arbengine/internal/risk"
)

type fakeSnapshotProvider struct {
	legs    []LegStatus
	riskMgr *risk.Manager
}

func (f *fakeSnapshotProvider) GetLegSnapshot() []LegStatus  { return f.legs }
func (f *fakeSnapshotProvider) GetRiskManager() *risk.Manager { return f.riskMgr }

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionPerPairUSD: 10000,
		MaxGlobalExposureUSD:  20000,
		KillSwitchDropPct:     0.05,
		KillSwitchWindowSec:   30,
		MaxDailyLossUSD:       1000,
		CooldownAfterKill:     5 * time.Minute,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildSnapshotAggregatesPnL(t *testing.T) {
	t.Parallel()

	provider := &fakeSnapshotProvider{
		legs: []LegStatus{
			{
				Venue: "coinbase", Pair: "BTC/USD",
				BestBid: 50000, BestAsk: 50010, MidPrice: 50005,
				Position: PositionSnapshot{NetQtyBase: 1, RealizedPnL: 10, UnrealizedPnL: 5},
			},
			{
				Venue: "binance", Pair: "BTC/USD",
				BestBid: 49990, BestAsk: 50000, MidPrice: 49995,
				Position: PositionSnapshot{NetQtyBase: -1, RealizedPnL: 2, UnrealizedPnL: -1},
			},
		},
		riskMgr: risk.NewManager(testRiskConfig(), discardLogger()),
	}

	cfg := config.Config{Arbitrage: config.ArbitrageConfig{MinEdgeBps: 10, OrderSizeBase: 0.1}, Risk: testRiskConfig()}

	snap := BuildSnapshot(provider, cfg)

	if len(snap.Legs) != 2 {
		t.Fatalf("len(Legs) = %d, want 2", len(snap.Legs))
	}
	if snap.TotalRealized != 12 {
		t.Errorf("TotalRealized = %v, want 12", snap.TotalRealized)
	}
	if snap.TotalUnrealized != 4 {
		t.Errorf("TotalUnrealized = %v, want 4", snap.TotalUnrealized)
	}
	if snap.TotalPnL != 16 {
		t.Errorf("TotalPnL = %v, want 16", snap.TotalPnL)
	}
	if snap.Risk.MaxGlobalExposureUSD != 20000 {
		t.Errorf("Risk.MaxGlobalExposureUSD = %v, want 20000", snap.Risk.MaxGlobalExposureUSD)
	}
}

func TestBuildSnapshotEmptyLegs(t *testing.T) {
	t.Parallel()

	provider := &fakeSnapshotProvider{
		legs:    nil,
		riskMgr: risk.NewManager(testRiskConfig(), discardLogger()),
	}
	cfg := config.Config{Risk: testRiskConfig()}

	snap := BuildSnapshot(provider, cfg)

	if len(snap.Legs) != 0 {
		t.Errorf("len(Legs) = %d, want 0", len(snap.Legs))
	}
	if snap.TotalPnL != 0 {
		t.Errorf("TotalPnL = %v, want 0", snap.TotalPnL)
	}
}
