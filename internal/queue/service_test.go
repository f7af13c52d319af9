package queue

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"searchsync/internal/domain"
	"searchsync/internal/ledger"
	"searchsync/pkg/platform/sentinel"
	"searchsync/pkg/platform/tx"
)

type ServiceSuite struct {
	suite.Suite
	store   *MemoryStore
	ledger  *ledger.MemoryStore
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupSubTest() {
	s.SetupTest()
}

func (s *ServiceSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.ledger = ledger.NewMemoryStore()
	s.service = NewService(s.store, s.ledger, tx.NopRunner{}, nil, logrus.New())
	s.ctx = context.Background()
}

func (s *ServiceSuite) request(id, key string, version int64) EnqueueRequest {
	return EnqueueRequest{
		Entity:         domain.EntityRef{Tenant: "acme", Type: "event", ID: id},
		Operation:      domain.OpUpsert,
		Payload:        json.RawMessage(`{"title":"gig"}`),
		Version:        version,
		IdempotencyKey: key,
	}
}

func (s *ServiceSuite) TestEnqueue() {
	s.Run("inserts and advances ledger", func() {
		req := s.request("e1", "key-1", 3)
		inserted, err := s.service.Enqueue(s.ctx, req)
		s.Require().NoError(err)
		s.True(inserted)

		row, err := s.ledger.Get(s.ctx, req.Entity)
		s.Require().NoError(err)
		s.Equal(int64(3), row.Version)
		s.Equal(ledger.StatusPending, row.Status)

		depth, err := s.service.Depth(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(1), depth)
	})

	s.Run("duplicate delivery is a success no-op", func() {
		req := s.request("e2", "key-dup", 1)
		inserted, err := s.service.Enqueue(s.ctx, req)
		s.Require().NoError(err)
		s.True(inserted)

		inserted, err = s.service.Enqueue(s.ctx, req)
		s.Require().NoError(err)
		s.False(inserted)

		depth, err := s.service.Depth(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(1), depth)
	})

	s.Run("duplicate does not advance the ledger", func() {
		first := s.request("e3", "key-v5", 5)
		_, err := s.service.Enqueue(s.ctx, first)
		s.Require().NoError(err)

		// Same key redelivered with a different version; ignored entirely.
		replay := s.request("e3", "key-v5", 9)
		inserted, err := s.service.Enqueue(s.ctx, replay)
		s.Require().NoError(err)
		s.False(inserted)

		row, err := s.ledger.Get(s.ctx, first.Entity)
		s.Require().NoError(err)
		s.Equal(int64(5), row.Version)
	})

	s.Run("rejects missing fields", func() {
		req := s.request("e4", "", 1)
		_, err := s.service.Enqueue(s.ctx, req)
		s.Require().ErrorContains(err, "idempotency key")
		s.Require().ErrorIs(err, sentinel.ErrInvalidArgument)

		req = s.request("e4", "key", 0)
		_, err = s.service.Enqueue(s.ctx, req)
		s.Require().ErrorContains(err, "version must be positive")
		s.Require().ErrorIs(err, sentinel.ErrInvalidArgument)

		req = s.request("", "key", 1)
		_, err = s.service.Enqueue(s.ctx, req)
		s.Require().ErrorIs(err, sentinel.ErrInvalidArgument)
	})

	s.Run("rejects unknown operation", func() {
		req := s.request("e5", "key-op", 1)
		req.Operation = "MERGE"
		_, err := s.service.Enqueue(s.ctx, req)
		s.Require().ErrorContains(err, "unknown operation")
		s.Require().ErrorIs(err, sentinel.ErrInvalidArgument)
	})
}
