package transport

import (
	"context"
	"log/slog"
	"time"
)

const (
	initialReconnectWait = 1 * time.Second
	maxReconnectWait     = 30 * time.Second
)

// RunWithReconnect calls connect repeatedly until ctx is cancelled,
// applying exponential backoff (capped at maxReconnectWait) between
// attempts that return an error. Mirrors the teacher's
// internal/exchange/ws.go Run(ctx) reconnect loop.
func RunWithReconnect(ctx context.Context, logger *slog.Logger, connect func(ctx context.Context) error) {
	wait := initialReconnectWait
	for {
		if ctx.Err() != nil {
			return
		}

		err := connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn("WARN feed connection lost, reconnecting", "error", err, "wait", wait)
		} else {
			wait = initialReconnectWait
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		wait *= 2
		if wait > maxReconnectWait {
			wait = maxReconnectWait
		}
	}
}
