package token

import (
	"context"
	"fmt"
	"sync"

	"searchsync/pkg/platform/sentinel"
)

// MemoryStore holds tokens in a map; unit tests and single-node dev.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]*Token
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]*Token)}
}

func (s *MemoryStore) Save(ctx context.Context, t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *t
	s.tokens[t.ID] = &copied
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("token %q: %w", id, sentinel.ErrNotFound)
	}
	copied := *t
	return &copied, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, id)
	return nil
}
