package book

import (
	"log/slog"
	"strconv"
)

// CoinbaseLevel is one entry of the Coinbase level2 "updates" array, shared
// by both snapshot- and update-typed events (spec §4.4: "Snapshot and
// update share the same shape; snapshot is processed as a sequence of
// updates.").
type CoinbaseLevel struct {
	Side         string `json:"side"` // "bid" | "offer"
	PriceLevel   string `json:"price_level"`
	NewQuantity  string `json:"new_quantity"`
}

// ApplyCoinbaseLevels applies a batch of Coinbase level2 entries to book
// and republishes the guarded snapshot once. Malformed numeric fields are
// skipped with a warning rather than aborting the whole batch (spec §4.4
// "malformed values are skipped with a warning").
func ApplyCoinbaseLevels(b *Book, levels []CoinbaseLevel, logger *slog.Logger) {
	for _, lvl := range levels {
		price, err := strconv.ParseFloat(lvl.PriceLevel, 64)
		if err != nil {
			logger.Warn("WARN skipping coinbase level with malformed price", "price_level", lvl.PriceLevel)
			continue
		}
		qty, err := strconv.ParseFloat(lvl.NewQuantity, 64)
		if err != nil {
			logger.Warn("WARN skipping coinbase level with malformed quantity", "new_quantity", lvl.NewQuantity)
			continue
		}

		switch lvl.Side {
		case "bid":
			b.ApplyBidUpdate(price, qty)
		case "offer":
			b.ApplyAskUpdate(price, qty)
		default:
			logger.Warn("WARN skipping coinbase level with unknown side", "side", lvl.Side)
		}
	}
	b.PublishGuarded()
}
