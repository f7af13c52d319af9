package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"searchsync/internal/domain"
	"searchsync/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) entity(id string) domain.EntityRef {
	return domain.EntityRef{Tenant: "acme", Type: "event", ID: id}
}

func (s *MemoryStoreSuite) TestAdvance() {
	s.Run("creates row at version", func() {
		e := s.entity("e1")
		s.Require().NoError(s.store.Advance(s.ctx, e, 3))

		row, err := s.store.Get(s.ctx, e)
		s.Require().NoError(err)
		s.Equal(int64(3), row.Version)
		s.Equal(StatusPending, row.Status)
	})

	s.Run("raises version monotonically", func() {
		e := s.entity("e2")
		s.Require().NoError(s.store.Advance(s.ctx, e, 2))
		s.Require().NoError(s.store.Advance(s.ctx, e, 5))

		row, err := s.store.Get(s.ctx, e)
		s.Require().NoError(err)
		s.Equal(int64(5), row.Version)
	})

	s.Run("older version is a no-op", func() {
		e := s.entity("e3")
		s.Require().NoError(s.store.Advance(s.ctx, e, 5))
		s.Require().NoError(s.store.Advance(s.ctx, e, 2))

		row, err := s.store.Get(s.ctx, e)
		s.Require().NoError(err)
		s.Equal(int64(5), row.Version)
	})

	s.Run("reopens terminal row as pending", func() {
		e := s.entity("e4")
		s.Require().NoError(s.store.Advance(s.ctx, e, 1))
		s.Require().NoError(s.store.MarkIndexed(s.ctx, e, 1))
		s.Require().NoError(s.store.Advance(s.ctx, e, 2))

		row, err := s.store.Get(s.ctx, e)
		s.Require().NoError(err)
		s.Equal(StatusPending, row.Status)
		s.Equal(int64(2), row.Version)
	})
}

func (s *MemoryStoreSuite) TestMarkIndexed() {
	s.Run("marks at version", func() {
		e := s.entity("m1")
		s.Require().NoError(s.store.Advance(s.ctx, e, 4))
		s.Require().NoError(s.store.MarkIndexed(s.ctx, e, 4))

		row, err := s.store.Get(s.ctx, e)
		s.Require().NoError(err)
		s.Equal(StatusIndexed, row.Status)
		s.NotNil(row.IndexedAt)
	})

	s.Run("stale completion conflicts", func() {
		e := s.entity("m2")
		s.Require().NoError(s.store.Advance(s.ctx, e, 3))
		err := s.store.MarkIndexed(s.ctx, e, 2)
		s.Require().ErrorIs(err, ErrVersionConflict)

		row, err := s.store.Get(s.ctx, e)
		s.Require().NoError(err)
		s.Equal(StatusPending, row.Status)
		s.Equal(int64(3), row.Version)
	})

	s.Run("unknown entity", func() {
		err := s.store.MarkIndexed(s.ctx, s.entity("never-seen"), 1)
		s.Require().ErrorIs(err, ErrEntityNotFound)
	})

	s.Run("clears last error from an earlier failure", func() {
		e := s.entity("m3")
		s.Require().NoError(s.store.Advance(s.ctx, e, 1))
		s.Require().NoError(s.store.MarkFailed(s.ctx, e, 1, errors.New("engine down")))
		s.Require().NoError(s.store.MarkIndexed(s.ctx, e, 1))

		row, err := s.store.Get(s.ctx, e)
		s.Require().NoError(err)
		s.Equal(StatusIndexed, row.Status)
		s.Empty(row.LastError)
	})
}

func (s *MemoryStoreSuite) TestMarkRemoved() {
	e := s.entity("r1")
	s.Require().NoError(s.store.Advance(s.ctx, e, 7))
	s.Require().NoError(s.store.MarkRemoved(s.ctx, e, 7))

	row, err := s.store.Get(s.ctx, e)
	s.Require().NoError(err)
	s.Equal(StatusRemoved, row.Status)
	s.True(row.Visible(7))
}

func (s *MemoryStoreSuite) TestMarkFailed() {
	s.Run("records failure and accumulates retries", func() {
		e := s.entity("f1")
		s.Require().NoError(s.store.Advance(s.ctx, e, 1))
		cause := fmt.Errorf("mapping rejected")
		s.Require().NoError(s.store.MarkFailed(s.ctx, e, 1, cause))
		s.Require().NoError(s.store.MarkFailed(s.ctx, e, 1, cause))

		row, err := s.store.Get(s.ctx, e)
		s.Require().NoError(err)
		s.Equal(StatusFailed, row.Status)
		s.Equal(2, row.RetryCount)
		s.Equal("mapping rejected", row.LastError)
	})

	s.Run("stale failure leaves a newer indexed row alone", func() {
		e := s.entity("f2")
		s.Require().NoError(s.store.Advance(s.ctx, e, 3))
		s.Require().NoError(s.store.MarkIndexed(s.ctx, e, 3))

		err := s.store.MarkFailed(s.ctx, e, 2, fmt.Errorf("engine down"))
		s.Require().ErrorIs(err, ErrVersionConflict)

		row, err := s.store.Get(s.ctx, e)
		s.Require().NoError(err)
		s.Equal(StatusIndexed, row.Status)
		s.Equal(int64(3), row.Version)
		s.True(row.Visible(3))
	})

	s.Run("unknown entity", func() {
		err := s.store.MarkFailed(s.ctx, s.entity("never-seen"), 1, fmt.Errorf("boom"))
		s.Require().ErrorIs(err, ErrEntityNotFound)
	})
}

func (s *MemoryStoreSuite) TestGetUnknown() {
	_, err := s.store.Get(s.ctx, s.entity("missing"))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func TestVisible(t *testing.T) {
	cases := []struct {
		name     string
		status   Status
		version  int64
		required int64
		want     bool
	}{
		{"indexed at version", StatusIndexed, 3, 3, true},
		{"indexed past version", StatusIndexed, 5, 3, true},
		{"indexed behind version", StatusIndexed, 2, 3, false},
		{"removed counts as visible", StatusRemoved, 3, 3, true},
		{"pending never visible", StatusPending, 5, 3, false},
		{"failed never visible", StatusFailed, 5, 3, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			row := IndexVersion{Version: tc.version, Status: tc.status}
			if got := row.Visible(tc.required); got != tc.want {
				t.Errorf("Visible(%d) with %s v%d = %v, want %v", tc.required, tc.status, tc.version, got, tc.want)
			}
		})
	}
}
