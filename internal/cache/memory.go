package cache

import (
	"sync"
	"time"

	"trainwatch.transitboard.org/internal/models"
)

// MemoryStore is the in-process Store implementation: a mutex-guarded map
// with TTL-based eviction. There is no size bound; entries age out.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry

	evictAfter  time.Duration
	cleanupTick *time.Ticker
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewMemoryStore creates a store whose janitor evicts entries older than
// evictAfter. Pass the stale TTL (or longer): expired entries are already
// treated as misses, eviction just reclaims the memory.
func NewMemoryStore(evictAfter time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries:     make(map[string]Entry),
		evictAfter:  evictAfter,
		cleanupTick: time.NewTicker(time.Minute),
		stopChan:    make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// Get returns the entry for key, if present. An in-memory read cannot fail;
// the error return satisfies the Store contract for fallible backends.
func (s *MemoryStore) Get(key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	return entry, ok, nil
}

// Put stores a payload stamped with createdAt. A losing concurrent writer
// must not clobber newer data: the write is discarded when an entry with a
// later creation instant is already present.
func (s *MemoryStore) Put(key string, payload models.ArrivalsPayload, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok && existing.CreatedAt.After(createdAt) {
		return nil
	}
	s.entries[key] = Entry{Key: key, Payload: payload, CreatedAt: createdAt}
	return nil
}

// Len reports the number of live entries, for metrics and debugging.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Snapshot copies the current entries, for the debug UI.
func (s *MemoryStore) Snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// cleanupOnce removes entries older than the eviction horizon. Separated
// from the background loop so tests can trigger it synchronously.
func (s *MemoryStore) cleanupOnce(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		if now.Sub(entry.CreatedAt) > s.evictAfter {
			delete(s.entries, key)
		}
	}
}

func (s *MemoryStore) cleanup() {
	for {
		select {
		case <-s.cleanupTick.C:
			s.cleanupOnce(time.Now())
		case <-s.stopChan:
			return
		}
	}
}

// Close stops the janitor goroutine. Safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.cleanupTick.Stop()
	})
	return nil
}
