// Package book implements the concurrent order-book data structure spec
// §3/§4.4 describes: a bid/ask price ladder per (venue, pair), each side
// owned single-writer by its feed goroutine, with a bounded "guarded"
// top-N snapshot published under its own mutex for concurrent readers.
//
// Grounded on the teacher's internal/market/book.go (RWMutex-guarded Book
// holding a snapshot per side) and original_source/include/exchange_api.h's
// orderbook_t (an unordered_map keyed by price, one per (exchange, pair)).
package book

import (
	"sort"
	"sync"
	"time"

	"arbengine/pkg/types"
)

// GuardedSubsetSize bounds the published top-N snapshot per side, matching
// the source's GUARDED_SUBSET_SIZE = 10.
const GuardedSubsetSize = 10

// Level is one (price, quantity) point on a ladder.
type Level struct {
	Price float64
	Qty   float64
}

// side is the single-writer-owned ladder plus its independently-guarded
// top-N snapshot. The ladder map is mutated only by the owning feed
// goroutine; the guarded slice is the only part readers may access
// concurrently, each under its own mutex (spec §3's per-side mutex
// requirement — bids and asks are guarded independently, not by one
// book-wide lock).
type side struct {
	ladder map[float64]float64 // price -> qty, single-writer owned

	guardMu sync.Mutex
	guarded []Level
}

// pointUpdate applies one (price, qty) mutation to the ladder following
// spec §4.4's point-update rules: qty>0 inserts or overwrites; qty<=0
// removes if present, else no-op.
func (s *side) pointUpdate(price, qty float64) {
	if qty > 0 {
		s.ladder[price] = qty
		return
	}
	delete(s.ladder, price)
}

// publishGuarded recomputes and atomically republishes the guarded top-N
// snapshot from the current ladder state, sorted per desc (true for bids,
// high-to-low; false for asks, low-to-high).
func (s *side) publishGuarded(desc bool) {
	levels := make([]Level, 0, len(s.ladder))
	for price, qty := range s.ladder {
		levels = append(levels, Level{Price: price, Qty: qty})
	}
	sort.Slice(levels, func(i, j int) bool {
		if desc {
			return levels[i].Price > levels[j].Price
		}
		return levels[i].Price < levels[j].Price
	})
	n := len(levels)
	if n > GuardedSubsetSize {
		n = GuardedSubsetSize
	}

	s.guardMu.Lock()
	s.guarded = levels[:n:n]
	s.guardMu.Unlock()
}

// snapshot returns a copy of the currently published guarded levels.
func (s *side) snapshot() []Level {
	s.guardMu.Lock()
	defer s.guardMu.Unlock()
	out := make([]Level, len(s.guarded))
	copy(out, s.guarded)
	return out
}

// Book is the live local order book for one (venue, pair). Bids and asks
// are each single-writer owned by the feed goroutine that mutates them;
// concurrent readers only ever see the guarded top-N snapshots.
type Book struct {
	venue types.Venue
	pair  types.InstrumentPair

	bids side
	asks side

	updatedMu sync.Mutex
	updated   time.Time
}

// New constructs an empty book for (venue, pair).
func New(venue types.Venue, pair types.InstrumentPair) *Book {
	return &Book{
		venue: venue,
		pair:  pair,
		bids:  side{ladder: make(map[float64]float64)},
		asks:  side{ladder: make(map[float64]float64)},
	}
}

// Venue returns the exchange this book belongs to.
func (b *Book) Venue() types.Venue { return b.venue }

// Pair returns the instrument pair this book tracks.
func (b *Book) Pair() types.InstrumentPair { return b.pair }

// ApplyBidUpdate applies one point update to the bid side. Must only be
// called from the owning feed goroutine.
func (b *Book) ApplyBidUpdate(price, qty float64) {
	b.bids.pointUpdate(price, qty)
}

// ApplyAskUpdate applies one point update to the ask side. Must only be
// called from the owning feed goroutine.
func (b *Book) ApplyAskUpdate(price, qty float64) {
	b.asks.pointUpdate(price, qty)
}

// PublishGuarded recomputes and republishes both sides' guarded snapshots
// and stamps the update time. Called once per batch of updates, after all
// point updates in that batch have been applied (spec §4.4).
func (b *Book) PublishGuarded() {
	b.bids.publishGuarded(true)
	b.asks.publishGuarded(false)

	b.updatedMu.Lock()
	b.updated = time.Now()
	b.updatedMu.Unlock()
}

// GuardedBids returns a copy of the published top-N bid levels, highest
// price first.
func (b *Book) GuardedBids() []Level { return b.bids.snapshot() }

// GuardedAsks returns a copy of the published top-N ask levels, lowest
// price first.
func (b *Book) GuardedAsks() []Level { return b.asks.snapshot() }

// BestBid returns the highest bid price/qty, or ok=false if the book has no
// bids.
func (b *Book) BestBid() (price, qty float64, ok bool) {
	levels := b.bids.snapshot()
	if len(levels) == 0 {
		return 0, 0, false
	}
	return levels[0].Price, levels[0].Qty, true
}

// BestAsk returns the lowest ask price/qty, or ok=false if the book has no
// asks.
func (b *Book) BestAsk() (price, qty float64, ok bool) {
	levels := b.asks.snapshot()
	if len(levels) == 0 {
		return 0, 0, false
	}
	return levels[0].Price, levels[0].Qty, true
}

// LastUpdated returns the time of the most recent PublishGuarded call.
func (b *Book) LastUpdated() time.Time {
	b.updatedMu.Lock()
	defer b.updatedMu.Unlock()
	return b.updated
}

// IsStale reports whether the book has not been updated within d.
func (b *Book) IsStale(d time.Duration) bool {
	last := b.LastUpdated()
	if last.IsZero() {
		return true
	}
	return time.Since(last) > d
}

var _ types.BookView = (*Book)(nil)
