// Package cache provides indicator+source keyed storage of normalized
// threat records with time-based expiry. All implementations degrade to
// always-miss / no-op when the underlying engine is unavailable so a cache
// outage never fails an enrichment.
package cache

import (
	"context"
	"time"

	"intelstream/internal/enrichment"
)

// Store is the cache contract. A Get hit requires the entry to be fresh:
// now - stored_at < the configured cache duration. An expired entry is a
// miss and need not be deleted on read. Put overwrites any prior entry for
// the same key and is idempotent.
type Store interface {
	Get(ctx context.Context, indicator string, source enrichment.Source) (*enrichment.ThreatRecord, bool, error)
	Put(ctx context.Context, ind enrichment.Indicator, source enrichment.Source, rec *enrichment.ThreatRecord) error
	Delete(ctx context.Context, indicator string, source enrichment.Source) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Noop is a Store that caches nothing. Every Get is a miss and every Put
// is discarded; it stands in when caching is disabled.
type Noop struct{}

func (Noop) Get(context.Context, string, enrichment.Source) (*enrichment.ThreatRecord, bool, error) {
	return nil, false, nil
}

func (Noop) Put(context.Context, enrichment.Indicator, enrichment.Source, *enrichment.ThreatRecord) error {
	return nil
}

func (Noop) Delete(context.Context, string, enrichment.Source) error { return nil }

func (Noop) Prune(context.Context, time.Time) (int64, error) { return 0, nil }
