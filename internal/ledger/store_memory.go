package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"searchsync/internal/domain"
	"searchsync/pkg/platform/sentinel"
)

// MemoryStore keeps ledger rows in a map. Used by unit tests and local
// development; semantics mirror the Postgres store exactly.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]*IndexVersion
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]*IndexVersion)}
}

func (s *MemoryStore) Advance(ctx context.Context, entity domain.EntityRef, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[entity.Key()]
	if !ok {
		s.rows[entity.Key()] = &IndexVersion{
			Entity:    entity,
			Version:   version,
			Status:    StatusPending,
			UpdatedAt: time.Now(),
		}
		return nil
	}
	if version > row.Version {
		row.Version = version
		row.Status = StatusPending
		row.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) MarkIndexed(ctx context.Context, entity domain.EntityRef, version int64) error {
	return s.markTerminal(entity, version, StatusIndexed)
}

func (s *MemoryStore) MarkRemoved(ctx context.Context, entity domain.EntityRef, version int64) error {
	return s.markTerminal(entity, version, StatusRemoved)
}

func (s *MemoryStore) markTerminal(entity domain.EntityRef, version int64, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[entity.Key()]
	if !ok {
		return ErrEntityNotFound
	}
	if version < row.Version {
		return ErrVersionConflict
	}
	now := time.Now()
	row.Version = version
	row.Status = status
	row.LastError = ""
	row.IndexedAt = &now
	row.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, entity domain.EntityRef, version int64, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[entity.Key()]
	if !ok {
		return ErrEntityNotFound
	}
	if version < row.Version {
		return ErrVersionConflict
	}
	row.Status = StatusFailed
	row.RetryCount++
	row.LastError = cause.Error()
	row.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, entity domain.EntityRef) (*IndexVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[entity.Key()]
	if !ok {
		return nil, fmt.Errorf("ledger row %s: %w", entity, sentinel.ErrNotFound)
	}
	copied := *row
	return &copied, nil
}
