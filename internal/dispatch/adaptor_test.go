package dispatch

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"arbengine/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBook struct{}

func (fakeBook) Venue() types.Venue                          { return types.Coinbase }
func (fakeBook) Pair() types.InstrumentPair                   { return types.InstrumentPair{} }
func (fakeBook) BestBid() (price, qty float64, ok bool)       { return 0, 0, false }
func (fakeBook) BestAsk() (price, qty float64, ok bool)       { return 0, 0, false }

type blockingTrader struct {
	release chan struct{}
	calls   int
}

func (t *blockingTrader) FeedEventHandler(book types.BookView) bool {
	t.calls++
	<-t.release
	return true
}

// S4 from spec §8: an adaptor under contention drops the event silently
// after MAX_LOCK_ATTEMPTS failed try-locks, without invoking the trader.
func TestGuardedAdaptorDropsUnderContention(t *testing.T) {
	trader := &blockingTrader{release: make(chan struct{})}
	adaptor := NewGuardedAdaptor(trader)

	started := make(chan struct{})
	go func() {
		adaptor.mu.Lock()
		close(started)
		time.Sleep(50 * time.Millisecond)
		adaptor.mu.Unlock()
	}()
	<-started

	result := adaptor.Handler(fakeBook{})
	if !result {
		t.Fatal("expected Handler to return true (continue) when lock unavailable")
	}
	if trader.calls != 0 {
		t.Fatalf("expected trader not invoked while contended, got %d calls", trader.calls)
	}
}

func TestGuardedAdaptorInvokesWhenFree(t *testing.T) {
	trader := &blockingTrader{release: make(chan struct{})}
	close(trader.release)
	adaptor := NewGuardedAdaptor(trader)

	if !adaptor.Handler(fakeBook{}) {
		t.Fatal("expected true result from trader")
	}
	if trader.calls != 1 {
		t.Fatalf("expected exactly 1 call, got %d", trader.calls)
	}
}

type countingQueuedTrader struct {
	mu      sync.Mutex
	handled int
}

func (t *countingQueuedTrader) FeedEventHandler(book types.BookView) bool { return true }
func (t *countingQueuedTrader) FeedEventToQueueItem(book types.BookView) int {
	return 1
}
func (t *countingQueuedTrader) HandleQueueItem(item int) bool {
	t.mu.Lock()
	t.handled += item
	t.mu.Unlock()
	return true
}

func TestQueuedAdaptorProcessesItems(t *testing.T) {
	trader := &countingQueuedTrader{}
	adaptor := NewQueuedAdaptor[int](trader, DefaultQueueCapacity, discardLogger())
	defer adaptor.Stop()

	for i := 0; i < 5; i++ {
		adaptor.Handler(fakeBook{})
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		trader.mu.Lock()
		h := trader.handled
		trader.mu.Unlock()
		if h == 5 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("queued adaptor did not process all items in time")
}

func TestQueuedAdaptorStopWakesWorker(t *testing.T) {
	trader := &countingQueuedTrader{}
	adaptor := NewQueuedAdaptor[int](trader, DefaultQueueCapacity, discardLogger())

	done := make(chan struct{})
	go func() {
		adaptor.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not wake the idle worker goroutine in time")
	}
}

func TestBoundedQueueDropsWhenFull(t *testing.T) {
	q := NewBoundedQueue[int](1)
	if !q.Push(1) {
		t.Fatal("first push should succeed")
	}
	if q.Push(2) {
		t.Fatal("push into full queue should report false")
	}
}
