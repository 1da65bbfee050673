package storage

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu       sync.RWMutex
	values   map[string][]byte
	category map[string]string
	closed   bool
}

// NewMemory returns an in-memory Store. Values are copied on the way in and out.
func NewMemory() Store {
	return &memoryStore{values: map[string][]byte{}, category: map[string]string{}}
}

func (s *memoryStore) GetSetting(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *memoryStore) SetSetting(ctx context.Context, key string, value []byte, category string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.values[key] = append([]byte(nil), value...)
	s.category[key] = category
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
