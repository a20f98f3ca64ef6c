package kv

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value    []byte
	expireAt time.Time // zero means no expiry
}

func (m *memoryItem) expired(now time.Time) bool {
	return !m.expireAt.IsZero() && !now.Before(m.expireAt)
}

// MemoryStore implements Store in process. Suitable for a single instance
// and for tests.
type MemoryStore struct {
	mu    sync.Mutex
	data  map[string]*memoryItem
	clock func() time.Time
	stop  chan struct{}
	once  sync.Once
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	cfg := &MemoryConfig{
		CleanupInterval: time.Minute,
		Clock:           time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &MemoryStore{
		data:  make(map[string]*memoryItem),
		clock: cfg.Clock,
		stop:  make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 {
		go s.cleanupExpired(cfg.CleanupInterval)
	}
	return s
}

func (s *MemoryStore) lookup(key string, now time.Time) (*memoryItem, bool) {
	item, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if item.expired(now) {
		delete(s.data, key)
		return nil, false
	}
	return item, true
}

func (s *MemoryStore) put(key string, value []byte, ttl time.Duration, now time.Time) {
	item := &memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expireAt = now.Add(ttl)
	}
	s.data[key] = item
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.lookup(key, s.clock())
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.value...), nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(key, value, ttl, s.clock())
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, key string, prev, next []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	item, ok := s.lookup(key, now)
	switch {
	case prev == nil && ok:
		return false, nil
	case prev != nil && (!ok || !bytes.Equal(item.value, prev)):
		return false, nil
	}

	if next == nil {
		delete(s.data, key)
		return true, nil
	}
	s.put(key, next, ttl, now)
	return true, nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	keys := make([]string, 0)
	for k, item := range s.data {
		if strings.HasPrefix(k, prefix) && !item.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) TryLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if _, ok := s.lookup(key, now); ok {
		return false, nil
	}
	s.put(key, []byte(token), ttl, now)
	return true, nil
}

func (s *MemoryStore) Unlock(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.lookup(key, s.clock())
	if ok && string(item.value) == token {
		delete(s.data, key)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			now := s.clock()
			for k, item := range s.data {
				if item.expired(now) {
					delete(s.data, k)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}
