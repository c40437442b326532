package core

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// backoff returns base * 2^(attempt-1), capped at maxBackoff.
func backoff(attempt int, base, maxBackoff time.Duration) time.Duration {
	if attempt <= 0 || base <= 0 {
		return 0
	}
	f := math.Pow(2, float64(attempt-1)) * float64(base)
	if f >= float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(f)
}

// jitter returns a random duration in [0, maxJitter].
func jitter(maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	return rand.N(maxJitter + 1) //nolint:gosec
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
