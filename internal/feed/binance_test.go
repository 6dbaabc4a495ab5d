package feed

import (
	"encoding/json"
	"testing"

	"arbengine/internal/book"
	"arbengine/pkg/types"
)

func newTestBinanceFeed() *BinanceFeed {
	return NewBinanceFeed([]types.InstrumentPair{testPair()}, "key", "secret",
		"wss://stream.binance.us:9443", "https://www.binance.us", discardLogger())
}

// Applies a REST snapshot directly to the bootstrap, the way fetchSnapshots
// would after a real network call, so tests can drive depthUpdate messages
// without one. The bootstrap does not promote to live until the first
// covering depthUpdate arrives (spec §4.4 step 4) — this only covers step 2.
func primeLive(t *testing.T, f *BinanceFeed, lastUpdateID int64) {
	t.Helper()
	bs := f.bootstraps["BTCUSD"]
	b := f.books["BTCUSD"]
	if err := bs.ApplySnapshot(b, lastUpdateID, []book.BinanceLevel{{"100", "1"}}, nil, discardLogger()); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
}

func TestBinanceFeedDispatchesLiveDepthUpdate(t *testing.T) {
	f := newTestBinanceFeed()
	primeLive(t, f, 1000)

	var dispatched int
	f.RegisterHandler(testPair(), types.OrdersUpdated, func(b types.BookView) bool {
		dispatched++
		return true
	})

	msg := `{"stream":"btcusd@depth@100ms","data":{"e":"depthUpdate","s":"BTCUSD","U":1001,"u":1002,"b":[["100","0"]],"a":[]}}`
	if !f.handleMessage(json.RawMessage(msg)) {
		t.Fatal("handleMessage should always return true for depthUpdate")
	}
	if dispatched != 1 {
		t.Fatalf("expected 1 dispatch, got %d", dispatched)
	}

	b := f.Book(testPair())
	if len(b.GuardedBids()) != 0 {
		t.Fatalf("expected bid at 100 removed, got %+v", b.GuardedBids())
	}
}

// A gap after the snapshot (the first update starts past lastUpdateId+1)
// must not silently corrupt the book: the bootstrap is torn down and no
// ORDERS_UPDATED event fires for the bad message (spec §8 invariant 5, §9
// bug #1's conforming fix).
func TestBinanceFeedRestartsBootstrapOnGap(t *testing.T) {
	f := newTestBinanceFeed()
	primeLive(t, f, 1000)

	var dispatched int
	f.RegisterHandler(testPair(), types.OrdersUpdated, func(b types.BookView) bool {
		dispatched++
		return true
	})

	// After primeLive the bootstrap holds snapshot 1000 but is not live yet:
	// no update has been applied. An update with U=9001 cannot cover
	// lastUpdateId+1=1001, so promotion fails and forces a restart.
	msg := `{"stream":"btcusd@depth@100ms","data":{"e":"depthUpdate","s":"BTCUSD","U":9001,"u":9002,"b":[["50","3"]],"a":[]}}`
	f.handleMessage(json.RawMessage(msg))

	if dispatched != 0 {
		t.Fatalf("expected no dispatch on a gapped update, got %d", dispatched)
	}
	if f.bootstraps["BTCUSD"].Live() {
		t.Fatal("expected bootstrap to be reset to non-live after a gap")
	}
}

func TestBinanceFeedBuffersBeforeLive(t *testing.T) {
	f := newTestBinanceFeed()
	// No ApplySnapshot yet: bootstrap is not live, so depthUpdate must be
	// buffered rather than applied or dispatched.
	var dispatched int
	f.RegisterHandler(testPair(), types.OrdersUpdated, func(b types.BookView) bool {
		dispatched++
		return true
	})

	msg := `{"stream":"btcusd@depth@100ms","data":{"e":"depthUpdate","s":"BTCUSD","U":1,"u":2,"b":[["50","1"]],"a":[]}}`
	f.handleMessage(json.RawMessage(msg))

	if dispatched != 0 {
		t.Fatalf("expected no dispatch before bootstrap is live, got %d", dispatched)
	}
	if len(f.Book(testPair()).GuardedBids()) != 0 {
		t.Fatal("expected book untouched before bootstrap is live")
	}
}

func TestBinanceFeedDispatchesKlineAsTicker(t *testing.T) {
	f := newTestBinanceFeed()
	var dispatched int
	f.RegisterHandler(testPair(), types.TickerUpdated, func(b types.BookView) bool {
		dispatched++
		return true
	})

	msg := `{"stream":"btcusd@kline_1s","data":{"e":"kline","s":"BTCUSD"}}`
	f.handleMessage(json.RawMessage(msg))
	if dispatched != 1 {
		t.Fatalf("expected 1 ticker dispatch, got %d", dispatched)
	}
}
