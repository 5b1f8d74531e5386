// Package lock provides per-(instrument, purpose) mutual exclusion
// with TTL expiry. Failure to acquire is a normal outcome meaning a
// concurrent duplicate is already being handled, not an error.
package lock

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Purpose partitions locks on the same instrument. A wall lock and an
// order lock on the same symbol never contend.
type Purpose string

const (
	PurposeWall  Purpose = "wall"
	PurposeOrder Purpose = "order"
	PurposeClose Purpose = "position_close"
)

// Clock abstracts time so tests can advance TTLs deterministically.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SystemClock returns a wall-clock backed Clock.
func SystemClock() Clock { return realClock{} }

// Store holds lock state. Implementations must expire entries on TTL
// elapse even without an explicit release.
type Store interface {
	// Acquire records the lock iff no unexpired entry exists for key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Service is the lock manager handed to signal handlers.
type Service struct {
	store Store
}

// NewService creates a lock service over the given store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Acquire attempts to take the (symbol, purpose) lock for ttl.
// Returns false when a concurrent holder exists.
func (s *Service) Acquire(ctx context.Context, symbol string, purpose Purpose, ttl time.Duration) (bool, error) {
	return s.store.Acquire(ctx, lockKey(symbol, purpose), ttl)
}

// Release frees the (symbol, purpose) lock. Releasing an expired or
// never-held lock is a no-op.
func (s *Service) Release(ctx context.Context, symbol string, purpose Purpose) error {
	return s.store.Release(ctx, lockKey(symbol, purpose))
}

func lockKey(symbol string, purpose Purpose) string {
	return fmt.Sprintf("%s:%s", strings.ToUpper(symbol), purpose)
}
