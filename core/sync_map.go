package core

import "sync"

// SyncMap is a minimal map that is safe for concurrent use.
type SyncMap[K comparable, V any] struct {
	m  map[K]V
	mu sync.RWMutex
}

func NewSyncMap[K comparable, V any]() *SyncMap[K, V] {
	return &SyncMap[K, V]{
		m: make(map[K]V),
	}
}

func (s *SyncMap[K, V]) Load(key K) (value V, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok = s.m[key]
	return
}

// LoadAndStore retrieves the value for a key, applies f to it and stores
// the result, all as one atomic operation.
func (s *SyncMap[K, V]) LoadAndStore(key K, f func(value V, ok bool) V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.m[key]
	s.m[key] = f(value, ok)
}

func (s *SyncMap[K, V]) Store(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}
