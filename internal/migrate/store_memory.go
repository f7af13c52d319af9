package migrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"searchsync/pkg/platform/sentinel"
)

// MemoryStore mirrors the Postgres single-flight semantics in memory.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Migration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*Migration)}
}

func (s *MemoryStore) Begin(ctx context.Context, m *Migration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.Alias == m.Alias && !row.State.Terminal() {
			return ErrMigrationInProgress
		}
	}
	now := time.Now()
	m.StartedAt = now
	m.UpdatedAt = now
	copied := *m
	s.rows[m.ID] = &copied
	return nil
}

func (s *MemoryStore) SetState(ctx context.Context, id string, state State, detail string, docsCopied int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("migration %q: %w", id, sentinel.ErrNotFound)
	}
	now := time.Now()
	row.State = state
	row.Error = detail
	if docsCopied > 0 {
		row.DocsCopied = docsCopied
	}
	row.UpdatedAt = now
	if state.Terminal() {
		row.FinishedAt = &now
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Migration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("migration %q: %w", id, sentinel.ErrNotFound)
	}
	copied := *row
	return &copied, nil
}

func (s *MemoryStore) Active(ctx context.Context) ([]*Migration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []*Migration
	for _, row := range s.rows {
		if !row.State.Terminal() {
			copied := *row
			active = append(active, &copied)
		}
	}
	return active, nil
}
