package session

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process session store for single-instance deployments
// and tests. All operations hold a single mutex; counter allocation is
// therefore trivially linearizable within the process.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memEntry // counterKey -> entry
	mappings map[string]*memEntry // mappingKey -> entry
	ttl      time.Duration

	done      chan struct{}
	closeOnce sync.Once

	// now is swappable for TTL tests.
	now func() time.Time
}

type memEntry struct {
	counter   int64
	value     string
	expiresAt time.Time
}

// NewMemoryStore creates a memory-backed store. A janitor goroutine evicts
// expired keys; reads also check deadlines so expiry is exact regardless of
// janitor timing.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &MemoryStore{
		counters: make(map[string]*memEntry),
		mappings: make(map[string]*memEntry),
		ttl:      ttl,
		done:     make(chan struct{}),
		now:      time.Now,
	}
	go s.janitor()
	return s
}

func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *MemoryStore) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.counters {
		if now.After(e.expiresAt) {
			delete(s.counters, k)
		}
	}
	for k, e := range s.mappings {
		if now.After(e.expiresAt) {
			delete(s.mappings, k)
		}
	}
}

// NextCounter increments and returns the counter for (sessionID, entityType),
// refreshing its deadline. An expired counter restarts at 1.
func (s *MemoryStore) NextCounter(ctx context.Context, sessionID, entityType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := counterKey(sessionID, entityType)
	now := s.now()

	e, ok := s.counters[key]
	if !ok || now.After(e.expiresAt) {
		e = &memEntry{}
		s.counters[key] = e
	}
	e.counter++
	e.expiresAt = now.Add(s.ttl)
	return e.counter, nil
}

// PutMapping upserts placeholder -> value, refreshing the deadline.
func (s *MemoryStore) PutMapping(ctx context.Context, sessionID, placeholder, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mappings[mappingKey(sessionID, placeholder)] = &memEntry{
		value:     value,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// GetMapping returns the stored value; expired entries read as absent.
func (s *MemoryStore) GetMapping(ctx context.Context, sessionID, placeholder string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.mappings[mappingKey(sessionID, placeholder)]
	if !ok || s.now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

// ClearSession deletes every counter and mapping belonging to the session.
func (s *MemoryStore) ClearSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := strings.TrimSuffix(sessionPattern(sessionID), "*")
	for k := range s.counters {
		if strings.HasPrefix(k, prefix) {
			delete(s.counters, k)
		}
	}
	for k := range s.mappings {
		if strings.HasPrefix(k, prefix) {
			delete(s.mappings, k)
		}
	}
	return nil
}

// Close stops the janitor goroutine.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
