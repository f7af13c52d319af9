package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"searchsync/internal/domain"
	"searchsync/internal/ledger"
	"searchsync/internal/token/metrics"
	"searchsync/pkg/platform/sentinel"
)

const defaultTTL = 2 * time.Minute

// Service issues and checks read-consistency tokens against the ledger.
// Checks are pure reads; the only side effect anywhere is reclaiming a token
// found expired.
type Service struct {
	store   Store
	ledger  ledger.Store
	ttl     time.Duration
	metrics *metrics.Metrics
}

func NewService(store Store, ledgerStore ledger.Store, ttl time.Duration, m *metrics.Metrics) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{store: store, ledger: ledgerStore, ttl: ttl, metrics: m}
}

// Issue records the versions the client's writes produced and returns an
// opaque token the client can poll.
func (s *Service) Issue(ctx context.Context, clientID, tenant string, writes []domain.Write) (*Token, error) {
	if len(writes) == 0 {
		return nil, fmt.Errorf("%w: token requires at least one write", sentinel.ErrInvalidArgument)
	}
	for _, w := range writes {
		if err := w.Entity.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", sentinel.ErrInvalidArgument, err)
		}
		if w.Entity.Tenant != tenant {
			return nil, fmt.Errorf("%w: write for tenant %q on a token for tenant %q", sentinel.ErrInvalidArgument, w.Entity.Tenant, tenant)
		}
		if w.Version <= 0 {
			return nil, fmt.Errorf("%w: version must be positive, got %d", sentinel.ErrInvalidArgument, w.Version)
		}
	}

	now := time.Now()
	t := &Token{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Tenant:    tenant,
		Required:  writes,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.Save(ctx, t); err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.metrics.IncrementIssued()
	return t, nil
}

// Check evaluates the token against the ledger. Satisfied only when every
// required entity is indexed (or removed, a visible deletion counts) at or
// past its required version.
func (s *Service) Check(ctx context.Context, id string) (State, error) {
	state, err := s.check(ctx, id)
	if err == nil {
		s.metrics.IncrementCheck(string(state))
	}
	return state, err
}

func (s *Service) check(ctx context.Context, id string) (State, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return StateUnknown, nil
		}
		return StateUnknown, err
	}
	if t.Expired(time.Now()) {
		// Lazy reclamation.
		if err := s.store.Delete(ctx, id); err != nil {
			return StateExpired, err
		}
		return StateExpired, nil
	}

	for _, w := range t.Required {
		row, err := s.ledger.Get(ctx, w.Entity)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return StatePending, nil
			}
			return StatePending, err
		}
		if !row.Visible(w.Version) {
			return StatePending, nil
		}
	}
	return StateSatisfied, nil
}

// Await polls Check with backoff until the token settles or ctx ends. The
// caller bounds the wait through ctx; cancellation has no side effects.
// Returns the last observed state; on timeout that is StatePending and the
// caller falls back to the authoritative store.
func (s *Service) Await(ctx context.Context, id string) (State, error) {
	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = 25 * time.Millisecond
	poll.MaxInterval = time.Second
	poll.MaxElapsedTime = 0

	state := StatePending
	for {
		var err error
		state, err = s.Check(ctx, id)
		if err != nil {
			return state, err
		}
		if state != StatePending {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return StatePending, nil
		case <-time.After(poll.NextBackOff()):
		}
	}
}
