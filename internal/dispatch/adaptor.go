package dispatch

import (
	"log/slog"
	"sync"

	"arbengine/pkg/types"
)

// maxLockAttempts matches the source's GuardedFeedAdaptor::MAX_LOCK_ATTEMPTS.
const maxLockAttempts = 4

// Trader is any strategy invoked by an adaptor: is_trader's Go equivalent.
type Trader interface {
	FeedEventHandler(book types.BookView) bool
}

// GuardedAdaptor wraps a Trader behind a non-blocking mutex. The feed
// goroutine must never block: if the trader is already mid-computation
// (its mutex held), the event is dropped silently and dispatch continues;
// otherwise the trader runs synchronously on the feed goroutine and the
// lock is always released afterward, even if the trader panics (spec
// §4.6's "releases unconditionally, propagating any thrown failure after
// release").
type GuardedAdaptor struct {
	mu     sync.Mutex
	trader Trader
}

// NewGuardedAdaptor wraps trader in a lock-guarded adaptor.
func NewGuardedAdaptor(trader Trader) *GuardedAdaptor {
	return &GuardedAdaptor{trader: trader}
}

// Handler is the types.Handler (or types.RawHandler — both share the
// same signature) to register with a feed.
func (a *GuardedAdaptor) Handler(book types.BookView) bool {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		if a.mu.TryLock() {
			defer a.mu.Unlock()
			return a.trader.FeedEventHandler(book)
		}
	}
	// Never acquired the lock within MAX_LOCK_ATTEMPTS: drop this event
	// silently and tell the dispatcher to keep notifying later handlers.
	return true
}

// QueueItem is whatever a Trader's FeedEventToQueueItem transform produces;
// the queued adaptor is generic over it.
type QueueItem interface{}

// QueuedTrader is a Trader that can also cheaply transform a BookView into
// a queueable item on the feed goroutine, deferring the expensive strategy
// invocation to the worker goroutine.
type QueuedTrader[T QueueItem] interface {
	Trader
	FeedEventToQueueItem(book types.BookView) T
	HandleQueueItem(item T) bool
}

// DefaultQueueCapacity matches the source's QueueFeedAdaptor default
// max_queue_size (spec §4.6 "Queue capacity is configurable (default 10)").
const DefaultQueueCapacity = 10

// QueuedAdaptor wraps a QueuedTrader behind a bounded, condition-variable
// based queue and a dedicated worker goroutine, so a slow strategy never
// blocks the feed goroutine.
type QueuedAdaptor[T QueueItem] struct {
	trader QueuedTrader[T]
	queue  *BoundedQueue[T]
	logger *slog.Logger

	wg sync.WaitGroup
}

// NewQueuedAdaptor constructs a queued adaptor with the given capacity
// (use DefaultQueueCapacity if unsure) and starts its worker goroutine.
func NewQueuedAdaptor[T QueueItem](trader QueuedTrader[T], capacity int, logger *slog.Logger) *QueuedAdaptor[T] {
	a := &QueuedAdaptor[T]{
		trader: trader,
		queue:  NewBoundedQueue[T](capacity),
		logger: logger,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *QueuedAdaptor[T]) run() {
	defer a.wg.Done()
	for {
		item, ok := a.queue.Pop()
		if !ok {
			return
		}
		a.trader.HandleQueueItem(item)
	}
}

// Handler converts the book into a queue item on the feed goroutine and
// enqueues it; on a full queue the event is dropped (backpressure). Always
// returns true: a queued handler never stops dispatch to later handlers.
func (a *QueuedAdaptor[T]) Handler(book types.BookView) bool {
	item := a.trader.FeedEventToQueueItem(book)
	if !a.queue.Push(item) {
		a.logger.Warn("WARN queued adaptor dropped event, queue full")
	}
	return true
}

// Stop wakes the worker goroutine and waits for it to exit.
func (a *QueuedAdaptor[T]) Stop() {
	a.queue.Stop()
	a.wg.Wait()
}
