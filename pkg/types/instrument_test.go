package types

import "testing"

func TestInstrumentPadsAndUppercases(t *testing.T) {
	i := NewInstrument("btc")
	if i.Name() != "BTC" {
		t.Fatalf("expected BTC, got %q", i.Name())
	}
	if i.NameLower() != "btc" {
		t.Fatalf("expected btc, got %q", i.NameLower())
	}
}

func TestInstrumentTruncatesLongSource(t *testing.T) {
	i := NewInstrument("abcdefghij")
	if len(i.Name()) != instrumentBufBytes {
		t.Fatalf("expected truncation to %d bytes, got %q", instrumentBufBytes, i.Name())
	}
}

func TestInstrumentEquality(t *testing.T) {
	a := NewInstrument("eth")
	b := NewInstrument("ETH")
	if a != b {
		t.Fatalf("expected byte-wise equal instruments, got %v != %v", a, b)
	}
}

func TestInstrumentPairVenueRenderings(t *testing.T) {
	p := NewInstrumentPair("btc", "usd")

	if got := p.Coinbase(); got != "BTC-USD" {
		t.Fatalf("coinbase rendering = %q, want BTC-USD", got)
	}
	if got := p.BinanceUpper(); got != "BTCUSD" {
		t.Fatalf("binance upper rendering = %q, want BTCUSD", got)
	}
	if got := p.BinanceLower(); got != "btcusd" {
		t.Fatalf("binance lower rendering = %q, want btcusd", got)
	}
}
