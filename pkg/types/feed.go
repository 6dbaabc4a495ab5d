package types

import "context"

// EventMask identifies which kind of book mutation a handler cares about.
// Handlers register with a mask; only events whose bit is set in the mask
// AND whose pair matches are delivered to that handler.
type EventMask uint8

const (
	OrdersUpdated EventMask = 0x01
	TickerUpdated EventMask = 0x02
	AllEvents     EventMask = 0xFF
)

// FeedEvent names the (pair, mask) an emitted book mutation belongs to.
type FeedEvent struct {
	Pair EventPair
	Mask EventMask
}

// EventPair identifies the instrument pair a FeedEvent concerns. Declared
// separately from InstrumentPair so handler registration can match on it
// without importing the book package.
type EventPair = InstrumentPair

// BookView is the read-only surface a dispatched handler observes. It is
// satisfied by *book.Book (see internal/book) — declared here, not there,
// so pkg/types has no dependency on internal packages.
type BookView interface {
	Venue() Venue
	Pair() InstrumentPair
	BestBid() (price, qty float64, ok bool)
	BestAsk() (price, qty float64, ok bool)
}

// Handler is a registered callable event handler. Returning false tells the
// dispatcher to stop notifying any handler registered after this one for
// the current event (spec §4.5's early-exit rule).
type Handler func(book BookView) bool

// RawHandler is a registered raw-priority handler carrying its own opaque
// state, closure-captured at registration time. This is the Go rendering of
// the source's function-pointer-plus-std::any-state pattern (REDESIGN
// FLAGS §9: fold into the same capability abstraction as callable
// handlers — here, both are plain closures, distinguished only by the
// priority list they are stored in).
type RawHandler func(book BookView) bool

// registeredHandler pairs a handler with the (pair, mask) it was registered
// against.
type registeredHandler struct {
	pair EventPair
	mask EventMask
	fn   Handler
}

type registeredRawHandler struct {
	pair EventPair
	mask EventMask
	fn   RawHandler
}

// HandlerRegistry holds the raw and callable handler lists for one feed and
// dispatches events to them in the order spec §4.5/§5 requires: raw
// handlers first, then callable handlers, each list in insertion order,
// stopping the moment any handler returns false.
type HandlerRegistry struct {
	raw     []registeredRawHandler
	regular []registeredHandler
}

// RegisterRawHandler adds a raw-priority handler matching events whose pair
// equals pair and whose mask bit intersects the given mask.
func (r *HandlerRegistry) RegisterRawHandler(pair EventPair, mask EventMask, fn RawHandler) {
	r.raw = append(r.raw, registeredRawHandler{pair: pair, mask: mask, fn: fn})
}

// RegisterHandler adds a callable-priority handler.
func (r *HandlerRegistry) RegisterHandler(pair EventPair, mask EventMask, fn Handler) {
	r.regular = append(r.regular, registeredHandler{pair: pair, mask: mask, fn: fn})
}

// Dispatch notifies matching handlers for ev, raw handlers before callable
// handlers, each list in insertion order. It stops at the first handler
// that returns false.
func (r *HandlerRegistry) Dispatch(ev FeedEvent, book BookView) {
	for _, h := range r.raw {
		if h.mask&ev.Mask == 0 || h.pair != ev.Pair {
			continue
		}
		if !h.fn(book) {
			return
		}
	}
	for _, h := range r.regular {
		if h.mask&ev.Mask == 0 || h.pair != ev.Pair {
			continue
		}
		if !h.fn(book) {
			return
		}
	}
}

// MarketFeed is the capability surface every per-exchange feed implements.
// REDESIGN FLAGS §9: replaces template specialization per exchange with a
// single polymorphic interface; each exchange's concrete type satisfies it
// and the dispatcher/engine code is written once against the interface.
type MarketFeed interface {
	// Start runs the feed's websocket I/O loop until ctx is cancelled or an
	// unrecoverable error occurs. Blocking; intended to run in its own
	// goroutine.
	Start(ctx context.Context) error
	// Close signals the feed to shut down; safe to call from any goroutine.
	Close() error
	RegisterHandler(pair EventPair, mask EventMask, fn Handler)
	RegisterRawHandler(pair EventPair, mask EventMask, fn RawHandler)
}
