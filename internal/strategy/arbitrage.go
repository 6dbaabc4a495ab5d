// Package strategy implements the cross-venue arbitrage trader: it watches
// the Coinbase and Binance order books for the same instrument pair and
// submits opposing IOC limit orders whenever one venue's best bid clears
// the other venue's best ask by more than a configured minimum edge.
//
// This does not violate a no-cross-instrument-routing rule: every trade is
// same-pair, cross-venue only — buy BTC/USD on the cheap venue, sell BTC/USD
// on the expensive one, both legs settling the identical instrument.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"arbengine/internal/config"
	"arbengine/internal/risk"
	"arbengine/internal/wallet"
	"arbengine/pkg/types"
)

// Opportunity describes one detected cross-venue spread wide enough to act
// on: buy the pair on BuyVenue at BuyPrice, sell it on SellVenue at
// SellPrice.
type Opportunity struct {
	Pair       types.InstrumentPair
	BuyVenue   types.Venue
	SellVenue  types.Venue
	BuyPrice   float64
	SellPrice  float64
	EdgeBps    float64
	Size       float64
	DetectedAt time.Time
}

// venueBook is the last-seen read-only view of one venue's book for the
// pair this trader watches, plus when it was last refreshed (for the stale
// check).
type venueBook struct {
	view    types.BookView
	seenAt  time.Time
}

// ArbitrageTrader watches both venues' books for a single instrument pair
// and fires opposing IOC orders when the spread between them clears
// cfg.MinEdgeBps. It satisfies dispatch.Trader, so it can be wrapped in a
// dispatch.GuardedAdaptor and registered with both feeds for this pair.
type ArbitrageTrader struct {
	pair types.InstrumentPair
	cfg  config.ArbitrageConfig

	coinbaseWallet *wallet.CoinbaseWallet
	binanceWallet  *wallet.BinanceWallet

	riskMgr   *risk.Manager
	inventory map[types.Venue]*Inventory // keyed by venue, one per leg

	dashboardEvents chan<- Event

	logger *slog.Logger

	mu     sync.Mutex
	books  map[types.Venue]venueBook
	cooldownUntil time.Time // skip new opportunities until this time (after submitting one)
}

// Event is the subset of dashboard-facing data the arbitrage trader emits;
// kept local to strategy so this package does not depend on internal/api
// (internal/api depends on strategy instead, avoiding an import cycle).
type Event struct {
	Type       string
	Pair       types.InstrumentPair
	Opportunity *Opportunity
	Timestamp  time.Time
}

// NewArbitrageTrader constructs a trader for one instrument pair.
func NewArbitrageTrader(
	pair types.InstrumentPair,
	cfg config.ArbitrageConfig,
	coinbaseWallet *wallet.CoinbaseWallet,
	binanceWallet *wallet.BinanceWallet,
	riskMgr *risk.Manager,
	logger *slog.Logger,
	dashboardEvents chan<- Event,
) *ArbitrageTrader {
	return &ArbitrageTrader{
		pair:           pair,
		cfg:            cfg,
		coinbaseWallet: coinbaseWallet,
		binanceWallet:  binanceWallet,
		riskMgr:        riskMgr,
		inventory: map[types.Venue]*Inventory{
			types.Coinbase: NewInventory(riskKey(types.Coinbase, pair)),
			types.Binance:  NewInventory(riskKey(types.Binance, pair)),
		},
		dashboardEvents: dashboardEvents,
		logger:          logger.With("component", "arbitrage", "pair", pair.String()),
		books:           make(map[types.Venue]venueBook, 2),
	}
}

// riskKey renders the (venue, pair) key risk.Manager and the position store
// index by.
func riskKey(venue types.Venue, pair types.InstrumentPair) string {
	return venue.String() + ":" + pair.String()
}

// FeedEventHandler is called on whichever feed's goroutine produced a book
// mutation for this trader's pair. It records the updated book, then
// re-evaluates both venues for an arbitrage opportunity. Always returns
// true: this trader never stops the dispatcher from notifying handlers
// registered after it.
func (t *ArbitrageTrader) FeedEventHandler(book types.BookView) bool {
	t.mu.Lock()
	t.books[book.Venue()] = venueBook{view: book, seenAt: time.Now()}
	coinbaseBook, haveCoinbase := t.books[types.Coinbase]
	binanceBook, haveBinance := t.books[types.Binance]
	cooldownUntil := t.cooldownUntil
	t.mu.Unlock()

	if !haveCoinbase || !haveBinance {
		return true
	}
	if time.Now().Before(cooldownUntil) {
		return true
	}
	if t.riskMgr != nil && t.riskMgr.IsKillSwitchActive() {
		return true
	}

	now := time.Now()
	if now.Sub(coinbaseBook.seenAt) > t.cfg.StaleBookTimeout || now.Sub(binanceBook.seenAt) > t.cfg.StaleBookTimeout {
		return true
	}

	t.evaluate(coinbaseBook.view, binanceBook.view)
	return true
}

// evaluate checks both directions (Coinbase bid vs Binance ask, and
// Binance bid vs Coinbase ask) and acts on whichever direction clears
// MinEdgeBps, preferring the wider edge if both do.
func (t *ArbitrageTrader) evaluate(coinbaseBook, binanceBook types.BookView) {
	coinbaseBid, _, coinbaseBidOK := coinbaseBook.BestBid()
	coinbaseAsk, _, coinbaseAskOK := coinbaseBook.BestAsk()
	binanceBid, _, binanceBidOK := binanceBook.BestBid()
	binanceAsk, _, binanceAskOK := binanceBook.BestAsk()

	var best *Opportunity

	if coinbaseBidOK && binanceAskOK {
		if op := t.buildOpportunity(types.Binance, types.Coinbase, binanceAsk, coinbaseBid); op != nil {
			best = op
		}
	}
	if binanceBidOK && coinbaseAskOK {
		if op := t.buildOpportunity(types.Coinbase, types.Binance, coinbaseAsk, binanceBid); op != nil {
			if best == nil || op.EdgeBps > best.EdgeBps {
				best = op
			}
		}
	}

	if best == nil {
		return
	}

	t.logger.Info("arbitrage opportunity detected",
		"buy_venue", best.BuyVenue, "sell_venue", best.SellVenue,
		"buy_price", best.BuyPrice, "sell_price", best.SellPrice,
		"edge_bps", best.EdgeBps,
	)
	t.emit(Event{Type: "opportunity", Pair: t.pair, Opportunity: best, Timestamp: best.DetectedAt})

	t.execute(best)
}

// buildOpportunity computes the edge of buying at buyPrice (on buyVenue)
// and selling at sellPrice (on sellVenue). Returns nil if the edge does not
// clear cfg.MinEdgeBps or if the risk budget leaves no room to size it.
func (t *ArbitrageTrader) buildOpportunity(buyVenue, sellVenue types.Venue, buyPrice, sellPrice float64) *Opportunity {
	if buyPrice <= 0 || sellPrice <= buyPrice {
		return nil
	}
	edgeBps := (sellPrice - buyPrice) / buyPrice * 10000
	if edgeBps < t.cfg.MinEdgeBps {
		return nil
	}

	size := t.cfg.OrderSizeBase
	if t.riskMgr != nil {
		remaining := t.riskMgr.RemainingBudget(riskKey(buyVenue, t.pair))
		if remaining <= 0 {
			return nil
		}
		maxSizeByBudget := remaining / buyPrice
		size = math.Min(size, maxSizeByBudget)
	}
	if size <= 0 {
		return nil
	}

	return &Opportunity{
		Pair:       t.pair,
		BuyVenue:   buyVenue,
		SellVenue:  sellVenue,
		BuyPrice:   buyPrice,
		SellPrice:  sellPrice,
		EdgeBps:    edgeBps,
		Size:       size,
		DetectedAt: time.Now(),
	}
}

// execute submits the two opposing IOC legs. It does not wait for fills
// before returning: the arbitrage window is narrow, so both legs go out
// concurrently and a cooldown prevents the next tick from resubmitting
// before these settle.
func (t *ArbitrageTrader) execute(op *Opportunity) {
	t.mu.Lock()
	t.cooldownUntil = time.Now().Add(t.cfg.RefreshInterval)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		status, err := t.submitLeg(ctx, op.BuyVenue, types.Buy, op.BuyPrice, op.Size)
		if err != nil {
			t.logger.Error("buy leg failed", "venue", op.BuyVenue, "error", err)
			return
		}
		t.recordFill(op.BuyVenue, types.Buy, op.BuyPrice, op.Size, status)
	}()

	go func() {
		defer wg.Done()
		status, err := t.submitLeg(ctx, op.SellVenue, types.Sell, op.SellPrice, op.Size)
		if err != nil {
			t.logger.Error("sell leg failed", "venue", op.SellVenue, "error", err)
			return
		}
		t.recordFill(op.SellVenue, types.Sell, op.SellPrice, op.Size, status)
	}()

	wg.Wait()
}

// submitLeg routes to the right venue's wallet. Both legs are IOC limit
// orders at the price the opportunity was detected at; Binance enforces
// IOC directly, Coinbase's short GTD window (10s) approximates it.
func (t *ArbitrageTrader) submitLeg(ctx context.Context, venue types.Venue, side types.Side, price, size float64) (types.OrderStatus, error) {
	switch venue {
	case types.Coinbase:
		return t.coinbaseWallet.CreateLimitOrder(ctx, side, t.pair, price, size)
	case types.Binance:
		if side == types.Buy {
			return t.binanceWallet.CreateLimitBuyOrder(ctx, t.pair, price, size)
		}
		return t.binanceWallet.CreateLimitSellOrder(ctx, t.pair, price, size)
	default:
		return types.OrderStatus{}, fmt.Errorf("unknown venue %v", venue)
	}
}

// recordFill updates the venue's inventory and reports the new exposure to
// the risk manager. Only FILLED or OPEN results update state;
// cancelled, failed and unknown results are ignored. An OPEN result is
// recorded as a full fill at the order price, so when only one leg
// succeeds the arbitrage shows up as a directional position.
func (t *ArbitrageTrader) recordFill(venue types.Venue, side types.Side, price, size float64, status types.OrderStatus) {
	if status.State != types.StatusFilled && status.State != types.StatusOpen {
		return
	}

	inv := t.inventory[venue]
	inv.OnFill(Fill{Timestamp: time.Now(), Venue: venue, Pair: t.pair, Side: side, Price: price, Size: size, OrderID: status.OrderID})
	inv.UpdateMarkToMarket(price)

	pos := inv.Snapshot()
	if t.riskMgr != nil {
		t.riskMgr.Report(risk.PositionReport{
			Key:           riskKey(venue, t.pair),
			NetQtyBase:    pos.NetQtyBase,
			MidPrice:      price,
			ExposureUSD:   inv.TotalExposureUSD(price),
			UnrealizedPnL: pos.UnrealizedPnL,
			RealizedPnL:   pos.RealizedPnL,
			Timestamp:     time.Now(),
		})
	}

	t.emit(Event{Type: "fill", Pair: t.pair, Timestamp: time.Now()})
}

// Inventory returns the tracked position for one venue, for use by the
// status dashboard and the position store.
func (t *ArbitrageTrader) Inventory(venue types.Venue) *Inventory {
	return t.inventory[venue]
}

func (t *ArbitrageTrader) emit(ev Event) {
	if t.dashboardEvents == nil {
		return
	}
	select {
	case t.dashboardEvents <- ev:
	default:
		t.logger.Warn("dashboard event channel full, dropping event", "type", ev.Type)
	}
}
