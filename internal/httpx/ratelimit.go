// ratelimit.go implements a continuously-refilling token-bucket limiter,
// grounded on the teacher's internal/exchange/ratelimit.go. Tuned here to
// Coinbase Advanced Trade's and Binance.US's published REST weight limits
// instead of Polymarket's.
package httpx

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or ctx is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64 // tokens refilled per second
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given burst capacity and
// refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups token buckets by REST endpoint category, one instance
// per wallet.
type RateLimiter struct {
	Order  *TokenBucket // order create
	Cancel *TokenBucket // order cancel
	Query  *TokenBucket // get/list order, account balance, exchangeInfo
}

// NewCoinbaseRateLimiter is tuned to Coinbase Advanced Trade's private REST
// endpoints (published at roughly 30 req/s): each category refills at 15
// req/s with a burst capacity of 30 requests.
func NewCoinbaseRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(30, 15),
		Cancel: NewTokenBucket(30, 15),
		Query:  NewTokenBucket(30, 15),
	}
}

// NewBinanceRateLimiter mirrors Binance.US's published REST weight limits,
// expressed here as a simpler per-category request budget rather than the
// full weight-accounting model.
func NewBinanceRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(50, 10),
		Cancel: NewTokenBucket(50, 10),
		Query:  NewTokenBucket(20, 5),
	}
}
