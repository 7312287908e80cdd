package remote

import (
	"sort"
	"sync"
)

// Storage is the key-value store holding session state such as the current
// user. Values must survive a JSON round trip.
type Storage interface {
	Get(key string) (any, error)
	Set(key string, value any) error
	Remove(key string) error
	Clear() error
	Keys() ([]string, error)
	All() (map[string]any, error)
}

// MemoryStorage keeps values in process memory. It is the default Storage.
type MemoryStorage struct {
	mu   sync.Mutex
	data map[string]any
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: map[string]any{}}
}

func (s *MemoryStorage) Get(key string) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *MemoryStorage) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryStorage) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStorage) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = map[string]any{}
	return nil
}

func (s *MemoryStorage) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStorage) All() (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out, nil
}
