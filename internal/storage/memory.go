package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memoryStore struct {
	mu     sync.Mutex
	m      map[string]int64
	closed bool
}

// NewMemory returns a process-local store.
func NewMemory() Store {
	return &memoryStore{m: map[string]int64{}}
}

func (s *memoryStore) GetNextRun(ctx context.Context, key string) (int64, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, false, ErrClosed
	}
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *memoryStore) SetNextRun(ctx context.Context, key string, nextRun int64) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.m[key] = nextRun
	return nil
}

func (s *memoryStore) List(ctx context.Context) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedRecords(s.m), nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func sortedRecords(m map[string]int64) []Record {
	out := make([]Record, 0, len(m))
	for k, v := range m {
		out = append(out, Record{Key: k, NextRun: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
