package cache

import (
	"context"
	"time"
)

// Store is a best-effort TTL cache. Callers treat it as a cache-aside layer and must work when it is empty.
type Store interface {
	// IncrementWithTTL bumps a counter, starting a fresh window when the previous one has expired.
	// A returned count of 1 means the caller is the first to claim the key within the window.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Claim reports whether the caller is the first to claim key within ttl.
func Claim(ctx context.Context, store Store, key string, ttl time.Duration) (bool, error) {
	if store == nil {
		return true, nil
	}
	count, _, err := store.IncrementWithTTL(ctx, key, ttl)
	if err != nil {
		return false, err
	}
	return count == 1, nil
}
