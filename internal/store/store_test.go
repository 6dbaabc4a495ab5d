package store

import (
	"testing"

	"arbengine/internal/strategy"
)

func TestSaveAndLoadPosition(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos := strategy.Position{
		NetQtyBase:    10.5,
		AvgEntryPrice: 100.25,
		RealizedPnL:   1.23,
	}

	if err := s.SavePosition("coinbase:BTC/USD", pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	loaded, err := s.LoadPosition("coinbase:BTC/USD")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadPosition returned nil")
	}

	if loaded.NetQtyBase != pos.NetQtyBase {
		t.Errorf("NetQtyBase = %v, want %v", loaded.NetQtyBase, pos.NetQtyBase)
	}
	if loaded.AvgEntryPrice != pos.AvgEntryPrice {
		t.Errorf("AvgEntryPrice = %v, want %v", loaded.AvgEntryPrice, pos.AvgEntryPrice)
	}
	if loaded.RealizedPnL != pos.RealizedPnL {
		t.Errorf("RealizedPnL = %v, want %v", loaded.RealizedPnL, pos.RealizedPnL)
	}
}

func TestLoadPositionMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	loaded, err := s.LoadPosition("binance:ETH/USD")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing position, got %+v", loaded)
	}
}

func TestSavePositionOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	pos1 := strategy.Position{NetQtyBase: 10}
	pos2 := strategy.Position{NetQtyBase: 20}

	_ = s.SavePosition("coinbase:BTC/USD", pos1)
	_ = s.SavePosition("coinbase:BTC/USD", pos2)

	loaded, err := s.LoadPosition("coinbase:BTC/USD")
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if loaded.NetQtyBase != 20 {
		t.Errorf("NetQtyBase = %v, want 20 (latest save)", loaded.NetQtyBase)
	}
}

func TestFileNameSanitizesKey(t *testing.T) {
	t.Parallel()
	if got := fileName("coinbase:BTC/USD"); got != "pos_coinbase_BTC-USD.json" {
		t.Errorf("fileName = %q", got)
	}
}
