package memory

import (
	"context"
	"sync"
)

// MapStore 以内存方式保存记忆，主要用于测试与单机调试。
type MapStore struct {
	mu      sync.RWMutex
	threads map[string][]Entry
}

// NewMapStore 创建 MapStore。
func NewMapStore() *MapStore {
	return &MapStore{threads: make(map[string][]Entry)}
}

// Append 实现 Store 接口。
func (s *MapStore) Append(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry = stamp(entry)
	s.threads[entry.Thread] = append(s.threads[entry.Thread], entry)
	return nil
}

// Recent 实现 Store 接口。
func (s *MapStore) Recent(_ context.Context, thread string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.threads[thread], limit), nil
}

// Thread 返回线程的全部记录副本。
func (s *MapStore) Thread(thread string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.threads[thread], 0)
}

// Close 实现 Store 接口。
func (s *MapStore) Close() error { return nil }

func tail(entries []Entry, limit int) []Entry {
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]Entry, limit)
	for i, entry := range entries[len(entries)-limit:] {
		entry.Metadata = cloneMetadata(entry.Metadata)
		out[i] = entry
	}
	return out
}

var _ Store = (*MapStore)(nil)
