package cache

import (
	"context"
	"sync"
	"time"

	"intelstream/internal/enrichment"
)

type memoryKey struct {
	indicator string
	source    enrichment.Source
}

type memoryEntry struct {
	record   *enrichment.ThreatRecord
	storedAt time.Time
}

// MemoryStore is an in-process Store backed by a map. It is the default
// when no external engine is configured and the fixture of choice in tests.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[memoryKey]memoryEntry
	duration time.Duration
	now      func() time.Time
}

// NewMemoryStore creates a store whose entries stay fresh for duration.
func NewMemoryStore(duration time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:  make(map[memoryKey]memoryEntry),
		duration: duration,
		now:      time.Now,
	}
}

// Get returns the cached record if one exists and is still fresh.
func (s *MemoryStore) Get(_ context.Context, indicator string, source enrichment.Source) (*enrichment.ThreatRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[memoryKey{indicator, source}]
	if !ok {
		return nil, false, nil
	}
	if s.now().Sub(entry.storedAt) >= s.duration {
		return nil, false, nil
	}
	return entry.record, true, nil
}

// Put stores the record, overwriting any prior entry for the same key.
func (s *MemoryStore) Put(_ context.Context, ind enrichment.Indicator, source enrichment.Source, rec *enrichment.ThreatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[memoryKey{ind.Value, source}] = memoryEntry{
		record:   rec,
		storedAt: s.now(),
	}
	return nil
}

// Delete removes a single entry.
func (s *MemoryStore) Delete(_ context.Context, indicator string, source enrichment.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, memoryKey{indicator, source})
	return nil
}

// Prune deletes all entries stored before cutoff.
func (s *MemoryStore) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, entry := range s.entries {
		if entry.storedAt.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of entries currently held, fresh or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
