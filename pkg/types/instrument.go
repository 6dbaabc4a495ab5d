// Package types is the common vocabulary shared by every other package in
// this module: instrument identity, order state, and the feed/handler
// interfaces that tie the market-feed, order-book, and dispatch layers
// together. It has no dependencies on internal packages.
package types

import "strings"

// instrumentBufBytes is the fixed width of an Instrument code. Shorter
// source strings are zero-padded; longer ones are truncated.
const instrumentBufBytes = 8

// Instrument is a fixed-width, upper-case ASCII asset code (e.g. "BTC",
// "USD"). Equality and hashing derive from the full 8-byte payload, so two
// Instruments are equal iff their padded byte representations match.
// Immutable after construction.
type Instrument [instrumentBufBytes]byte

// NewInstrument upper-cases src and truncates/pads it to the fixed width.
func NewInstrument(src string) Instrument {
	var buf Instrument
	upper := strings.ToUpper(src)
	n := copy(buf[:], upper)
	_ = n
	return buf
}

// Name renders the instrument as an upper-case string with padding trimmed.
func (i Instrument) Name() string {
	return strings.TrimRight(string(i[:]), "\x00")
}

// NameLower renders the instrument in lower case, used for venues whose
// stream paths expect lower-case symbols (Binance combined-stream names).
func (i Instrument) NameLower() string {
	return strings.ToLower(i.Name())
}

// InstrumentPair is an ordered (base, quote) pair, e.g. BTC/USD.
type InstrumentPair struct {
	Base  Instrument
	Quote Instrument
}

// NewInstrumentPair builds a pair from base/quote source strings.
func NewInstrumentPair(base, quote string) InstrumentPair {
	return InstrumentPair{Base: NewInstrument(base), Quote: NewInstrument(quote)}
}

// Coinbase renders the pair in Coinbase Advanced Trade's product_id shape:
// "BASE-QUOTE", upper case.
func (p InstrumentPair) Coinbase() string {
	return p.Base.Name() + "-" + p.Quote.Name()
}

// BinanceUpper renders the pair as Binance's upper-case symbol: "BASEQUOTE".
func (p InstrumentPair) BinanceUpper() string {
	return p.Base.Name() + p.Quote.Name()
}

// BinanceLower renders the pair as Binance's lower-case stream-path symbol:
// "basequote", used inside combined-stream websocket query strings.
func (p InstrumentPair) BinanceLower() string {
	return p.Base.NameLower() + p.Quote.NameLower()
}

// String renders a human-readable "BASE/QUOTE" form for logging.
func (p InstrumentPair) String() string {
	return p.Base.Name() + "/" + p.Quote.Name()
}
