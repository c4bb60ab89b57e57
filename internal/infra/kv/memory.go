package kv

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// memoryStore is the hermetic Store used by unit tests and single-node runs.
type memoryStore struct {
	mu   sync.Mutex
	data map[string]entry
	// now is swappable so expiry tests don't sleep.
	now func() time.Time
}

func NewMemory() Store {
	return &memoryStore{data: make(map[string]entry), now: time.Now}
}

// NewMemoryWithClock builds a memory store on a fake clock.
func NewMemoryWithClock(now func() time.Time) Store {
	return &memoryStore{data: make(map[string]entry), now: now}
}

func (s *memoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.data[key]; ok && !e.expired(now) {
		return false, nil
	}
	s.data[key] = s.newEntry(value, ttl, now)
	return true, nil
}

func (s *memoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = s.newEntry(value, ttl, s.now())
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok || e.expired(s.now()) {
		delete(s.data, key)
		return "", ErrNotFound
	}
	return e.value, nil
}

func (s *memoryStore) DelIfEqual(ctx context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok || e.expired(s.now()) || e.value != value {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

func (s *memoryStore) Del(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *memoryStore) newEntry(value string, ttl time.Duration, now time.Time) entry {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	return e
}
