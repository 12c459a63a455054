package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"intelstream/internal/enrichment"
)

// RedisStore caches records in Redis with server-side TTL expiry. Like the
// SQLite store it degrades to always-miss / no-op when the server is
// unreachable.
type RedisStore struct {
	client   *redis.Client
	duration time.Duration
	logger   *zap.Logger
}

// NewRedisStore creates a store whose entries expire after duration.
func NewRedisStore(client *redis.Client, duration time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, duration: duration, logger: logger}
}

func redisKey(indicator string, source enrichment.Source) string {
	return fmt.Sprintf("enrich:%s:%s", source, indicator)
}

// Get returns the cached record if the key has not expired.
func (s *RedisStore) Get(ctx context.Context, indicator string, source enrichment.Source) (*enrichment.ThreatRecord, bool, error) {
	raw, err := s.client.Get(ctx, redisKey(indicator, source)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		s.logger.Warn("redis cache unavailable, treating as miss", zap.Error(err))
		return nil, false, nil
	}

	var rec enrichment.ThreatRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.Warn("redis cache entry corrupt, treating as miss",
			zap.String("indicator", indicator), zap.Error(err))
		return nil, false, nil
	}
	return &rec, true, nil
}

// Put stores the record with the configured TTL, overwriting any prior
// value for the same key.
func (s *RedisStore) Put(ctx context.Context, ind enrichment.Indicator, source enrichment.Source, rec *enrichment.ThreatRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(ind.Value, source), payload, s.duration).Err(); err != nil {
		s.logger.Warn("redis cache write failed", zap.Error(err))
	}
	return nil
}

// Delete removes a single entry.
func (s *RedisStore) Delete(ctx context.Context, indicator string, source enrichment.Source) error {
	if err := s.client.Del(ctx, redisKey(indicator, source)).Err(); err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// Prune is a no-op: Redis expires entries server-side via the key TTL.
func (s *RedisStore) Prune(context.Context, time.Time) (int64, error) {
	return 0, nil
}
