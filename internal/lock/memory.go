package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process lock store. Expired entries are
// overwritten on the next acquire; no background sweep is needed.
type MemoryStore struct {
	mu     sync.Mutex
	clock  Clock
	expiry map[string]time.Time
}

// NewMemoryStore creates a memory lock store using the given clock.
func NewMemoryStore(clock Clock) *MemoryStore {
	if clock == nil {
		clock = SystemClock()
	}
	return &MemoryStore{clock: clock, expiry: make(map[string]time.Time)}
}

func (s *MemoryStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if exp, held := s.expiry[key]; held && exp.After(now) {
		return false, nil
	}
	s.expiry[key] = now.Add(ttl)
	return true, nil
}

func (s *MemoryStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.expiry, key)
	return nil
}
