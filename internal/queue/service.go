package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"searchsync/internal/domain"
	"searchsync/internal/ledger"
	"searchsync/internal/queue/metrics"
	"searchsync/pkg/platform/sentinel"
	"searchsync/pkg/platform/tenancy"
	"searchsync/pkg/platform/tx"
)

// EnqueueRequest is what producers hand the queue for one observed change.
type EnqueueRequest struct {
	Entity         domain.EntityRef
	Operation      domain.Operation
	Payload        json.RawMessage
	Version        int64
	IdempotencyKey string
	Priority       int
}

// Service is the producer-facing side of the queue. Enqueue inserts the entry
// and advances the ledger as one unit, so the ledger's target version is
// never behind what sits in the queue.
type Service struct {
	store   Store
	ledger  ledger.Store
	runner  tx.Runner
	metrics *metrics.Metrics
	log     *logrus.Logger
}

func NewService(store Store, ledgerStore ledger.Store, runner tx.Runner, m *metrics.Metrics, log *logrus.Logger) *Service {
	return &Service{store: store, ledger: ledgerStore, runner: runner, metrics: m, log: log}
}

// Enqueue records one document operation. Duplicate idempotency keys are a
// success no-op. Returns whether a new entry was inserted.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (bool, error) {
	if err := req.Entity.Validate(); err != nil {
		return false, fmt.Errorf("%w: %w", sentinel.ErrInvalidArgument, err)
	}
	if _, err := domain.ParseOperation(string(req.Operation)); err != nil {
		return false, fmt.Errorf("%w: %w", sentinel.ErrInvalidArgument, err)
	}
	if req.Version <= 0 {
		return false, fmt.Errorf("%w: version must be positive, got %d", sentinel.ErrInvalidArgument, req.Version)
	}
	if req.IdempotencyKey == "" {
		return false, fmt.Errorf("%w: idempotency key is required", sentinel.ErrInvalidArgument)
	}

	// The enqueue transaction acts for exactly one tenant; binding it here
	// puts the row-level security policies on the hot path.
	ctx = tenancy.WithTenant(ctx, req.Entity.Tenant)

	inserted := false
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		entry := &Entry{
			Entity:         req.Entity,
			Operation:      req.Operation,
			Payload:        req.Payload,
			Priority:       req.Priority,
			Version:        req.Version,
			IdempotencyKey: req.IdempotencyKey,
		}
		var err error
		inserted, err = s.store.Insert(ctx, entry)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		return s.ledger.Advance(ctx, req.Entity, req.Version)
	})
	if err != nil {
		return false, fmt.Errorf("enqueue %s v%d: %w", req.Entity, req.Version, err)
	}

	if inserted {
		s.metrics.IncrementEnqueued("inserted")
	} else {
		s.metrics.IncrementEnqueued("duplicate")
		s.log.WithFields(logrus.Fields{
			"entity":          req.Entity.Key(),
			"idempotency_key": req.IdempotencyKey,
		}).Debug("duplicate enqueue ignored")
	}
	return inserted, nil
}

// Depth reports unprocessed entries; the migrator's drain check and the
// health surface both read it.
func (s *Service) Depth(ctx context.Context) (int64, error) {
	return s.store.Depth(ctx)
}
