// File: internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in-memory Store used in tests and as a scratch backend.
// Documents are kept as marshalled bytes so Read/Write round-trips behave
// exactly like the file backend.
type MemStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{docs: make(map[string][]byte)}
}

// Read implements Store.
func (s *MemStore) Read(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	buf, ok := s.docs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := json.Unmarshal(buf, v); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", name, err)
	}
	return nil
}

// Write implements Store.
func (s *MemStore) Write(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", name, err)
	}
	s.mu.Lock()
	s.docs[name] = buf
	s.mu.Unlock()
	return nil
}

// List implements Store.
func (s *MemStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for name := range s.docs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements Store.
func (s *MemStore) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.docs, name)
	s.mu.Unlock()
	return nil
}

// Close implements Store.
func (s *MemStore) Close() error { return nil }

var _ Store = (*MemStore)(nil)
