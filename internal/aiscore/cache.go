package aiscore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"intelstream/internal/enrichment"
)

const scanCacheSchema = `
CREATE TABLE IF NOT EXISTS scan_cache (
	indicator      TEXT PRIMARY KEY,
	indicator_type TEXT NOT NULL CHECK(indicator_type IN ('ip', 'url', 'hash')),
	result         TEXT NOT NULL,
	timestamp      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scan_cache_timestamp ON scan_cache (timestamp);
`

// ScanCache caches scoring verdicts keyed by indicator. Only IPs, URLs and
// hashes are cacheable; anything else always misses. The handle is opened
// per operation, and every storage failure degrades to a miss/no-op so
// the scoring flow keeps working without the cache.
type ScanCache struct {
	path     string
	duration time.Duration
	logger   *zap.Logger

	initMu      sync.Mutex
	initialized bool

	now func() time.Time
}

// NewScanCache creates a cache whose entries stay fresh for duration.
func NewScanCache(path string, duration time.Duration, logger *zap.Logger) *ScanCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanCache{
		path:     path,
		duration: duration,
		logger:   logger,
		now:      time.Now,
	}
}

func cacheable(t enrichment.IndicatorType) bool {
	switch t {
	case enrichment.IndicatorTypeIP, enrichment.IndicatorTypeURL, enrichment.IndicatorTypeHash:
		return true
	default:
		return false
	}
}

func (c *ScanCache) open() (*sql.DB, error) {
	if dir := filepath.Dir(c.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating scan cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", c.path)
	if err != nil {
		return nil, fmt.Errorf("opening scan cache: %w", err)
	}
	return db, nil
}

func (c *ScanCache) ensureSchema(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	if c.initialized {
		return nil
	}
	db, err := c.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, scanCacheSchema); err != nil {
		return fmt.Errorf("initializing scan cache schema: %w", err)
	}
	c.initialized = true
	return nil
}

// Get returns the cached verdict if present and still fresh.
func (c *ScanCache) Get(ctx context.Context, ind enrichment.Indicator) (json.RawMessage, bool) {
	if !cacheable(ind.Type) {
		return nil, false
	}
	if err := c.ensureSchema(ctx); err != nil {
		c.logger.Warn("scan cache unavailable, treating as miss", zap.Error(err))
		return nil, false
	}

	db, err := c.open()
	if err != nil {
		c.logger.Warn("scan cache unavailable, treating as miss", zap.Error(err))
		return nil, false
	}
	defer db.Close()

	var result string
	var storedAt int64
	err = db.QueryRowContext(ctx,
		"SELECT result, timestamp FROM scan_cache WHERE indicator = ? AND indicator_type = ?",
		ind.Value, string(ind.Type),
	).Scan(&result, &storedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			c.logger.Warn("scan cache read failed, treating as miss", zap.Error(err))
		}
		return nil, false
	}

	if c.now().Sub(time.Unix(storedAt, 0)) >= c.duration {
		return nil, false
	}
	return json.RawMessage(result), true
}

// Put stores or overwrites the verdict for the indicator.
func (c *ScanCache) Put(ctx context.Context, ind enrichment.Indicator, result json.RawMessage) {
	if !cacheable(ind.Type) {
		return
	}
	if err := c.ensureSchema(ctx); err != nil {
		c.logger.Warn("scan cache unavailable, skipping store", zap.Error(err))
		return
	}

	db, err := c.open()
	if err != nil {
		c.logger.Warn("scan cache unavailable, skipping store", zap.Error(err))
		return
	}
	defer db.Close()

	_, err = db.ExecContext(ctx,
		"INSERT OR REPLACE INTO scan_cache (indicator, indicator_type, result, timestamp) VALUES (?, ?, ?, ?)",
		ind.Value, string(ind.Type), string(result), c.now().Unix(),
	)
	if err != nil {
		c.logger.Warn("scan cache write failed", zap.Error(err))
	}
}

// Delete removes one cached verdict.
func (c *ScanCache) Delete(ctx context.Context, ind enrichment.Indicator) {
	db, err := c.open()
	if err != nil {
		return
	}
	defer db.Close()

	_, err = db.ExecContext(ctx,
		"DELETE FROM scan_cache WHERE indicator = ? AND indicator_type = ?",
		ind.Value, string(ind.Type),
	)
	if err != nil {
		c.logger.Warn("scan cache delete failed", zap.Error(err))
	}
}

// Prune removes entries older than the cache duration.
func (c *ScanCache) Prune(ctx context.Context) {
	if err := c.ensureSchema(ctx); err != nil {
		return
	}
	db, err := c.open()
	if err != nil {
		return
	}
	defer db.Close()

	cutoff := c.now().Add(-c.duration).Unix()
	if _, err := db.ExecContext(ctx, "DELETE FROM scan_cache WHERE timestamp < ?", cutoff); err != nil {
		c.logger.Warn("scan cache prune failed", zap.Error(err))
	}
}
