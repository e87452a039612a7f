package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a process-local Store. It is the default for single-replica deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore constructs an empty in-process store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     now,
	}
}

// IncrementWithTTL implements Store.
func (s *MemoryStore) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.entries[key]
	var count int64 = 1
	if ok && !entry.expired(now) {
		current, _ := strconv.ParseInt(string(entry.value), 10, 64)
		count = current + 1
	} else {
		entry.expiresAt = now.Add(window)
	}
	entry.value = []byte(strconv.FormatInt(count, 10))
	s.entries[key] = entry

	return count, entry.expiresAt.Sub(now), nil
}

// Set implements Store. A non-positive ttl never expires.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// PurgeExpired drops expired entries and returns how many were removed.
func (s *MemoryStore) PurgeExpired(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var removed int64
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries, including expired ones not yet purged.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
