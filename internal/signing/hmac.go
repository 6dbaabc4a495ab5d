// Package signing provides the HMAC-SHA256 request signing shared by the
// Coinbase and Binance wallets and by the Coinbase feed's signed
// subscription messages. Grounded on original_source/include/crypto.h
// (a thin hmac(msg, key, digest) wrapper over OpenSSL EVP) and its call
// sites in coinbase_feed.h, wallet_coinbase.h, and wallet_binance.h, all of
// which render the digest as lowercase hex — never base64.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Sign computes HMAC-SHA256(message, secret) and returns it as lowercase
// hex, matching every call site in the source (spec §4.5, §4.7, §8 law 6).
func Sign(message, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// TimestampSeconds renders the current time as a decimal Unix-seconds
// string, the form Coinbase expects in its signed plaintext and headers
// (CB-ACCESS-TIMESTAMP, the coinbase_feed.h subscribe "timestamp" field).
func TimestampSeconds(now time.Time) string {
	return strconv.FormatInt(now.Unix(), 10)
}

// TimestampMillis renders the current time as decimal Unix-milliseconds,
// the form Binance's signed requests use for their "timestamp" query
// parameter.
func TimestampMillis(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10)
}
