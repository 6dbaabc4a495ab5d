// Package engine is the central orchestrator of the arbitrage bot.
//
// It wires together all subsystems:
//
//  1. Two market feeds (Coinbase, Binance.US) each maintain one Book per
//     configured pair and dispatch book-mutation events to registered
//     handlers.
//  2. Every configured pair gets one strategy.ArbitrageTrader wrapped in a
//     dispatch.GuardedAdaptor, registered with both feeds so it observes
//     both venues' books for that pair.
//  3. The risk manager monitors all (venue, pair) legs and can trigger a
//     kill switch; the engine just logs and surfaces it to the dashboard —
//     the trader itself checks IsKillSwitchActive() before acting.
//  4. The store persists each leg's position to disk on shutdown and
//     restores it on startup.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"arbengine/internal/api"
	"arbengine/internal/book"
	"arbengine/internal/config"
	"arbengine/internal/dispatch"
	"arbengine/internal/feed"
	"arbengine/internal/risk"
	"arbengine/internal/store"
	"arbengine/internal/strategy"
	"arbengine/internal/wallet"
	"arbengine/pkg/types"
)

var bothVenues = [2]types.Venue{types.Coinbase, types.Binance}

// Engine orchestrates all components of the arbitrage system. It owns the
// lifecycle of all goroutines.
type Engine struct {
	cfg   config.Config
	pairs []types.InstrumentPair

	coinbaseFeed *feed.CoinbaseFeed
	binanceFeed  *feed.BinanceFeed

	coinbaseWallet *wallet.CoinbaseWallet
	binanceWallet  *wallet.BinanceWallet

	riskMgr *risk.Manager
	store   *store.Store
	logger  *slog.Logger

	// traders maps pair.String() -> the trader watching that pair across
	// both venues.
	traders map[string]*strategy.ArbitrageTrader

	// strategyEvents is written by every trader; translateEvents converts
	// each one into an api.DashboardEvent and forwards it to
	// dashboardEvents.
	strategyEvents  chan strategy.Event
	dashboardEvents chan api.DashboardEvent

	apiServer *api.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// parsePair parses a "BASE-QUOTE" config entry (e.g. "BTC-USD").
func parsePair(s string) (types.InstrumentPair, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return types.InstrumentPair{}, fmt.Errorf("invalid pair %q, want BASE-QUOTE", s)
	}
	return types.NewInstrumentPair(parts[0], parts[1]), nil
}

// legKey renders the (venue, pair) key the risk manager and position store
// index by. Must match strategy's internal riskKey format.
func legKey(venue types.Venue, pair types.InstrumentPair) string {
	return venue.String() + ":" + pair.String()
}

// New creates and wires all engine components.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	pairs := make([]types.InstrumentPair, len(cfg.Pairs))
	for i, s := range cfg.Pairs {
		pair, err := parsePair(s)
		if err != nil {
			return nil, err
		}
		pairs[i] = pair
	}

	coinbaseFeed := feed.NewCoinbaseFeed(pairs, cfg.Coinbase.APIKey, cfg.Coinbase.APISecret, cfg.Coinbase.WSURL, logger)

	// cfg.Binance.WSURL is the full combined-stream URL including the
	// trailing "/stream" path; the feed builds that path itself from the
	// host base.
	binanceWSBase := strings.TrimSuffix(cfg.Binance.WSURL, "/stream")
	binanceFeed := feed.NewBinanceFeed(pairs, cfg.Binance.APIKey, cfg.Binance.APISecret, binanceWSBase, cfg.Binance.RESTBase, logger)

	coinbaseWallet := wallet.NewCoinbaseWallet(cfg.Coinbase.APIKey, cfg.Coinbase.APISecret, cfg.Coinbase.RESTBase, logger)
	coinbaseWallet.SetDryRun(cfg.DryRun)

	ctx, cancel := context.WithCancel(context.Background())

	binanceWallet, err := wallet.NewBinanceWallet(ctx, cfg.Binance.APIKey, cfg.Binance.APISecret, cfg.Binance.RESTBase, pairs, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create binance wallet: %w", err)
	}
	binanceWallet.SetDryRun(cfg.DryRun)

	riskMgr := risk.NewManager(cfg.Risk, logger)

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		cancel()
		return nil, err
	}

	strategyEvents := make(chan strategy.Event, 256)

	var dashEvents chan api.DashboardEvent
	if cfg.Dashboard.Enabled {
		dashEvents = make(chan api.DashboardEvent, 256)
	}

	e := &Engine{
		cfg:             cfg,
		pairs:           pairs,
		coinbaseFeed:    coinbaseFeed,
		binanceFeed:     binanceFeed,
		coinbaseWallet:  coinbaseWallet,
		binanceWallet:   binanceWallet,
		riskMgr:         riskMgr,
		store:           st,
		logger:          logger.With("component", "engine"),
		traders:         make(map[string]*strategy.ArbitrageTrader, len(pairs)),
		strategyEvents:  strategyEvents,
		dashboardEvents: dashEvents,
		ctx:             ctx,
		cancel:          cancel,
	}

	for _, pair := range pairs {
		trader := strategy.NewArbitrageTrader(pair, cfg.Arbitrage, coinbaseWallet, binanceWallet, riskMgr, logger, strategyEvents)

		for _, venue := range bothVenues {
			if pos, err := st.LoadPosition(legKey(venue, pair)); err == nil && pos != nil {
				trader.Inventory(venue).SetPosition(*pos)
			}
		}

		adaptor := dispatch.NewGuardedAdaptor(trader)
		coinbaseFeed.RegisterHandler(pair, types.OrdersUpdated, adaptor.Handler)
		binanceFeed.RegisterHandler(pair, types.OrdersUpdated, adaptor.Handler)

		e.traders[pair.String()] = trader
	}

	if cfg.Dashboard.Enabled {
		e.apiServer = api.NewServer(cfg.Dashboard, e, cfg, logger)
	}

	return e, nil
}

// Start launches all background goroutines: feeds, risk manager, event
// translation, and kill-signal handling.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.coinbaseFeed.Start(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("coinbase feed error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.binanceFeed.Start(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("binance feed error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.riskMgr.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.handleKillSignals()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.translateEvents()
	}()

	if e.apiServer != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.apiServer.Start(); err != nil {
				e.logger.Error("dashboard server error", "error", err)
			}
		}()
	}

	e.logger.Info("engine started", "pairs", e.cfg.Pairs, "dry_run", e.cfg.DryRun)
	return nil
}

// Stop gracefully shuts down: cancels all contexts, persists final
// positions, waits for goroutines, and closes resources.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()

	for _, pair := range e.pairs {
		trader, ok := e.traders[pair.String()]
		if !ok {
			continue
		}
		for _, venue := range bothVenues {
			pos := trader.Inventory(venue).Snapshot()
			if err := e.store.SavePosition(legKey(venue, pair), pos); err != nil {
				e.logger.Error("failed to save position", "pair", pair.String(), "venue", venue, "error", err)
			}
		}
	}

	if e.apiServer != nil {
		if err := e.apiServer.Stop(); err != nil {
			e.logger.Error("failed to stop dashboard server", "error", err)
		}
	}

	e.wg.Wait()

	e.coinbaseFeed.Close()
	e.binanceFeed.Close()
	e.store.Close()

	e.logger.Info("shutdown complete")
}

// handleKillSignals logs and forwards kill switch activations to the
// dashboard. It does not stop any trader explicitly: ArbitrageTrader checks
// riskMgr.IsKillSwitchActive() on every book update and skips new
// opportunities for itself during the cooldown.
func (e *Engine) handleKillSignals() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case kill := <-e.riskMgr.KillCh():
			e.logger.Error("KILL SIGNAL received", "key", kill.Key, "reason", kill.Reason)
			e.emitDashboardEvent(api.DashboardEvent{
				Type:      "kill",
				Timestamp: time.Now(),
				Key:       kill.Key,
				Data:      api.NewKillEvent(kill.Reason, time.Now().Add(e.cfg.Risk.CooldownAfterKill), kill.Key),
			})
		}
	}
}

// translateEvents converts strategy.Event values (trader-local, to avoid an
// import cycle) into api.DashboardEvent and forwards them to the dashboard.
func (e *Engine) translateEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.strategyEvents:
			if !ok {
				return
			}
			e.emitDashboardEvent(e.toDashboardEvent(ev))
		}
	}
}

func (e *Engine) toDashboardEvent(ev strategy.Event) api.DashboardEvent {
	out := api.DashboardEvent{
		Type:      ev.Type,
		Timestamp: ev.Timestamp,
		Key:       ev.Pair.String(),
	}
	if ev.Type == "opportunity" && ev.Opportunity != nil {
		op := ev.Opportunity
		out.Data = api.NewOpportunityEvent(op.BuyVenue, op.SellVenue, op.Pair, op.BuyPrice, op.SellPrice, op.EdgeBps, op.Size, op.DetectedAt)
	}
	return out
}

func (e *Engine) emitDashboardEvent(evt api.DashboardEvent) {
	if e.dashboardEvents == nil {
		return
	}
	select {
	case e.dashboardEvents <- evt:
	default:
		e.logger.Warn("dashboard event channel full, dropping event", "type", evt.Type)
	}
}

// GetLegSnapshot implements api.KeySnapshotProvider: one row per (venue,
// pair) the engine trades.
func (e *Engine) GetLegSnapshot() []api.LegStatus {
	result := make([]api.LegStatus, 0, len(e.pairs)*2)

	for _, pair := range e.pairs {
		trader, ok := e.traders[pair.String()]
		if !ok {
			continue
		}

		for _, venue := range bothVenues {
			b := e.bookFor(venue, pair)
			if b == nil {
				continue
			}

			bid, _, bidOK := b.BestBid()
			ask, _, askOK := b.BestAsk()

			var mid, spread, spreadBps float64
			if bidOK && askOK {
				mid = (bid + ask) / 2
				spread = ask - bid
				if mid > 0 {
					spreadBps = (spread / mid) * 10000
				}
			}

			inv := trader.Inventory(venue)
			pos := inv.Snapshot()

			result = append(result, api.LegStatus{
				Venue:       venue.String(),
				Pair:        pair.String(),
				BestBid:     bid,
				BestAsk:     ask,
				MidPrice:    mid,
				Spread:      spread,
				SpreadBps:   spreadBps,
				LastUpdated: b.LastUpdated(),
				IsStale:     b.IsStale(e.cfg.Arbitrage.StaleBookTimeout),
				Position: api.PositionSnapshot{
					NetQtyBase:    pos.NetQtyBase,
					AvgEntryPrice: pos.AvgEntryPrice,
					RealizedPnL:   pos.RealizedPnL,
					UnrealizedPnL: pos.UnrealizedPnL,
					ExposureUSD:   inv.TotalExposureUSD(mid),
					LastUpdated:   pos.LastUpdated,
				},
			})
		}
	}

	return result
}

func (e *Engine) bookFor(venue types.Venue, pair types.InstrumentPair) *book.Book {
	switch venue {
	case types.Coinbase:
		return e.coinbaseFeed.Book(pair)
	case types.Binance:
		return e.binanceFeed.Book(pair)
	default:
		return nil
	}
}

// GetRiskManager implements api.KeySnapshotProvider.
func (e *Engine) GetRiskManager() *risk.Manager {
	return e.riskMgr
}

// DashboardEvents implements the interface api.Server.consumeEvents asserts
// against its provider.
func (e *Engine) DashboardEvents() <-chan api.DashboardEvent {
	return e.dashboardEvents
}
