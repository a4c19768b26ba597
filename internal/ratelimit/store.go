package ratelimit

import (
	"context"
	"sync"
	"time"
)

// CounterStore is the quota counter collaborator. Values written with Put
// must stop being visible to Get once ttl elapses.
type CounterStore interface {
	Get(ctx context.Context, key string) (int, error)
	Put(ctx context.Context, key string, value int, ttl time.Duration) error
}

// Incrementer is implemented by stores that can bump a counter in one round trip.
type Incrementer interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int, error)
}

type memoryEntry struct {
	value     int
	expiresAt time.Time
}

// MemoryStore is an in-process CounterStore for single-instance deployments
// and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// NewMemoryStoreWithClock creates a MemoryStore that reads time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	s := NewMemoryStore()
	s.now = now
	return s
}

// Get returns the live value for key, or 0.
func (s *MemoryStore) Get(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return 0, nil
	}
	return e.value, nil
}

// Put stores value under key until ttl elapses.
func (s *MemoryStore) Put(_ context.Context, key string, value int, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

// Incr adds one to key. An expired or missing counter restarts at 1.
func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || !now.Before(e.expiresAt) {
		e = memoryEntry{expiresAt: now.Add(ttl)}
	}
	e.value++
	s.entries[key] = e
	return e.value, nil
}

// Sweep drops expired counters and reports how many were removed.
func (s *MemoryStore) Sweep(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed int64
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}
