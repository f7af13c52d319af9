package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"searchsync/internal/domain"
	"searchsync/pkg/platform/sentinel"
)

// MemoryStore mirrors the Postgres queue semantics in memory, including
// leases, so worker unit tests exercise the same claim lifecycle.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	entries []*Entry
	byKey   map[string]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKey: make(map[string]*Entry)}
}

func (s *MemoryStore) Insert(ctx context.Context, e *Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[e.IdempotencyKey]; ok {
		return false, nil
	}
	s.nextID++
	e.ID = s.nextID
	now := time.Now()
	e.EnqueuedAt = now
	e.NextAttemptAt = now
	s.entries = append(s.entries, e)
	s.byKey[e.IdempotencyKey] = e
	return true, nil
}

func (s *MemoryStore) DequeueBatch(ctx context.Context, limit int, lease time.Duration) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()

	var due []*Entry
	for _, e := range s.entries {
		if !e.Pending() {
			continue
		}
		if e.NextAttemptAt.After(now) {
			continue
		}
		if e.LeasedUntil != nil && e.LeasedUntil.After(now) {
			continue
		}
		due = append(due, e)
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority < due[j].Priority
		}
		return due[i].EnqueuedAt.Before(due[j].EnqueuedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*Entry, 0, len(due))
	until := now.Add(lease)
	for _, e := range due {
		e.LeasedUntil = &until
		copied := *e
		claimed = append(claimed, &copied)
	}
	return claimed, nil
}

func (s *MemoryStore) MaxPendingVersion(ctx context.Context, entity domain.EntityRef) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, e := range s.entries {
		if e.Pending() && e.Entity == entity && e.Version > max {
			max = e.Version
		}
	}
	return max, nil
}

func (s *MemoryStore) MarkApplied(ctx context.Context, id int64) error {
	return s.terminal(id, OutcomeApplied, "")
}

func (s *MemoryStore) MarkCoalesced(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if err := s.terminal(id, OutcomeCoalesced, ""); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) MarkExhausted(ctx context.Context, id int64, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(id)
	if e == nil {
		return sentinel.ErrNotFound
	}
	e.Outcome = OutcomeFailed
	e.LastError = cause.Error()
	e.Attempts++
	e.LeasedUntil = nil
	return nil
}

func (s *MemoryStore) MarkRetry(ctx context.Context, id int64, cause error, nextAttempt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(id)
	if e == nil {
		return sentinel.ErrNotFound
	}
	e.Attempts++
	e.LastError = cause.Error()
	e.NextAttemptAt = nextAttempt
	e.LeasedUntil = nil
	return nil
}

func (s *MemoryStore) Depth(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if e.Pending() {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) FailedCount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if e.Outcome == OutcomeFailed {
			n++
		}
	}
	return n, nil
}

// Entry returns a copy of an entry by id; test helper.
func (s *MemoryStore) Entry(id int64) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(id)
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

func (s *MemoryStore) terminal(id int64, outcome Outcome, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.find(id)
	if e == nil {
		return sentinel.ErrNotFound
	}
	now := time.Now()
	e.ProcessedAt = &now
	e.Outcome = outcome
	if lastError != "" {
		e.LastError = lastError
	}
	e.LeasedUntil = nil
	return nil
}

func (s *MemoryStore) find(id int64) *Entry {
	for _, e := range s.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}
