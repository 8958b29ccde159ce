package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process ObjectStore for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	merges  int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// FailPutsWith makes subsequent puts return err (nil restores success).
func (s *MemoryStore) FailPutsWith(err error) {
	s.mu.Lock()
	s.putErr = err
	s.mu.Unlock()
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[key] = cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("no such object %s", key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemoryStore) Merge(ctx context.Context, finalKey string, partKeys []string) error {
	if len(partKeys) == 0 {
		return fmt.Errorf("merge of zero parts")
	}
	var merged []byte
	for _, k := range partKeys {
		part, err := s.Get(ctx, k)
		if err != nil {
			return err
		}
		merged = append(merged, part...)
	}
	s.mu.Lock()
	s.merges++
	s.mu.Unlock()
	return s.Put(ctx, finalKey, merged)
}

func (s *MemoryStore) URL(key string) string {
	return "mem://" + key
}

// MergeCount reports how many merges have run.
func (s *MemoryStore) MergeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.merges
}

// Keys returns all stored object keys.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	return out
}
