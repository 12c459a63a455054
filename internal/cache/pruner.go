package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartPruner runs a background sweep that deletes all entries older than
// duration every interval, until ctx is cancelled. It runs independently
// of any enrichment request and is safe alongside concurrent Get/Put
// traffic.
func StartPruner(ctx context.Context, store Store, duration, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-duration)
				if _, err := store.Prune(ctx, cutoff); err != nil {
					logger.Warn("cache prune sweep failed", zap.Error(err))
				}
			}
		}
	}()
}
