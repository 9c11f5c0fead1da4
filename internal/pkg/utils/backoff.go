package utils

import (
	"context"
	"math/rand"
	"time"
)

// JitterDuration returns base plus a uniformly random extra in [0, spread).
func JitterDuration(base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(spread)))
}

// SleepContext waits for d or until ctx is cancelled, whichever comes
// first. Returns ctx.Err() when the wait was cut short.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
