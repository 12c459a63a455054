package cache

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

const threatCacheSchema = `
CREATE TABLE IF NOT EXISTS threat_cache (
	indicator      TEXT NOT NULL,
	indicator_type TEXT NOT NULL CHECK(indicator_type IN ('ip', 'domain', 'url', 'hash')),
	source         TEXT NOT NULL,
	result         TEXT NOT NULL,
	timestamp      INTEGER NOT NULL,
	PRIMARY KEY (indicator, source)
);
CREATE INDEX IF NOT EXISTS idx_threat_cache_timestamp ON threat_cache (timestamp);
`

// SQLiteStore persists cache entries in a SQLite database. The handle is
// opened per operation so a failure on one call cannot corrupt state for
// the next; if the database cannot be opened at all, every Get reports a
// miss and every Put is a no-op.
type SQLiteStore struct {
	path     string
	duration time.Duration
	logger   *zap.Logger

	initMu      sync.Mutex
	initialized bool

	now func() time.Time
}

// NewSQLiteStore creates a store whose entries stay fresh for duration.
func NewSQLiteStore(path string, duration time.Duration, logger *zap.Logger) *SQLiteStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{
		path:     path,
		duration: duration,
		logger:   logger,
		now:      time.Now,
	}
}

// open acquires a fresh database handle. The parent directory is created
// on first use.
func (s *SQLiteStore) open() (*sql.DB, error) {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 10000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring cache database: %w", err)
	}
	return db, nil
}

// ensureSchema creates the table and index at most once per process
// lifetime. Concurrent early callers serialize on the init lock so the
// schema is never created twice.
func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.initialized {
		return nil
	}

	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, threatCacheSchema); err != nil {
		return fmt.Errorf("initializing cache schema: %w", err)
	}
	s.initialized = true
	s.logger.Info("cache schema initialized", zap.String("path", s.path))
	return nil
}

// Get returns the cached record if one exists and is still fresh. Storage
// errors degrade to a miss.
func (s *SQLiteStore) Get(ctx context.Context, indicator string, source enrichment.Source) (*enrichment.ThreatRecord, bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		s.logger.Warn("cache unavailable, treating as miss", zap.Error(err))
		return nil, false, nil
	}

	db, err := s.open()
	if err != nil {
		s.logger.Warn("cache unavailable, treating as miss", zap.Error(err))
		return nil, false, nil
	}
	defer db.Close()

	var result string
	var storedAt int64
	err = db.QueryRowContext(ctx,
		"SELECT result, timestamp FROM threat_cache WHERE indicator = ? AND source = ?",
		indicator, string(source),
	).Scan(&result, &storedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		s.logger.Warn("cache read failed, treating as miss", zap.Error(err))
		return nil, false, nil
	}

	age := s.now().Sub(time.Unix(storedAt, 0))
	if age >= s.duration {
		return nil, false, nil
	}

	var rec enrichment.ThreatRecord
	if err := json.Unmarshal([]byte(result), &rec); err != nil {
		s.logger.Warn("cache entry corrupt, treating as miss",
			zap.String("indicator", indicator), zap.Error(err))
		return nil, false, nil
	}
	return &rec, true, nil
}

// Put stores or overwrites the entry for (indicator, source). Storage
// errors are logged and swallowed.
func (s *SQLiteStore) Put(ctx context.Context, ind enrichment.Indicator, source enrichment.Source, rec *enrichment.ThreatRecord) error {
	if err := s.ensureSchema(ctx); err != nil {
		s.logger.Warn("cache unavailable, skipping store", zap.Error(err))
		return nil
	}

	db, err := s.open()
	if err != nil {
		s.logger.Warn("cache unavailable, skipping store", zap.Error(err))
		return nil
	}
	defer db.Close()

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	_, err = db.ExecContext(ctx,
		"INSERT OR REPLACE INTO threat_cache (indicator, indicator_type, source, result, timestamp) VALUES (?, ?, ?, ?, ?)",
		ind.Value, string(ind.Type), string(source), string(payload), s.now().Unix(),
	)
	if err != nil {
		s.logger.Warn("cache write failed", zap.Error(err))
	}
	return nil
}

// Delete removes a single entry.
func (s *SQLiteStore) Delete(ctx context.Context, indicator string, source enrichment.Source) error {
	db, err := s.open()
	if err != nil {
		s.logger.Warn("cache unavailable, skipping delete", zap.Error(err))
		return nil
	}
	defer db.Close()

	_, err = db.ExecContext(ctx,
		"DELETE FROM threat_cache WHERE indicator = ? AND source = ?",
		indicator, string(source),
	)
	if err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// Prune deletes all entries stored before cutoff, using the timestamp
// index for the range scan. It is safe to run concurrently with ongoing
// Get/Put traffic.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.ensureSchema(ctx); err != nil {
		s.logger.Warn("cache unavailable, skipping prune", zap.Error(err))
		return 0, nil
	}

	db, err := s.open()
	if err != nil {
		s.logger.Warn("cache unavailable, skipping prune", zap.Error(err))
		return 0, nil
	}
	defer db.Close()

	res, err := db.ExecContext(ctx, "DELETE FROM threat_cache WHERE timestamp < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		s.logger.Info("pruned stale cache entries", zap.Int64("removed", removed))
	}
	return removed, nil
}
