//go:build integration

package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"searchsync/internal/domain"
	"searchsync/internal/ledger"
	"searchsync/pkg/platform/sentinel"
	"searchsync/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *ledger.PostgresStore
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = ledger.NewPostgres(s.postgres.DB)
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) TearDownSuite() {
	_ = s.postgres.DB.Close()
	_ = s.postgres.Container.Terminate(context.Background())
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(s.ctx, "index_versions"))
}

func (s *PostgresStoreSuite) entity(id string) domain.EntityRef {
	return domain.EntityRef{Tenant: "acme", Type: "event", ID: id}
}

func (s *PostgresStoreSuite) TestAdvanceIsMonotonic() {
	e := s.entity("e1")
	s.Require().NoError(s.store.Advance(s.ctx, e, 3))
	s.Require().NoError(s.store.Advance(s.ctx, e, 5))
	s.Require().NoError(s.store.Advance(s.ctx, e, 2))

	row, err := s.store.Get(s.ctx, e)
	s.Require().NoError(err)
	s.Equal(int64(5), row.Version)
	s.Equal(ledger.StatusPending, row.Status)
}

func (s *PostgresStoreSuite) TestMarkIndexed() {
	e := s.entity("e2")
	s.Require().NoError(s.store.Advance(s.ctx, e, 4))
	s.Require().NoError(s.store.MarkIndexed(s.ctx, e, 4))

	row, err := s.store.Get(s.ctx, e)
	s.Require().NoError(err)
	s.Equal(ledger.StatusIndexed, row.Status)
	s.NotNil(row.IndexedAt)
}

func (s *PostgresStoreSuite) TestStaleCompletionConflicts() {
	e := s.entity("e3")
	s.Require().NoError(s.store.Advance(s.ctx, e, 3))
	err := s.store.MarkIndexed(s.ctx, e, 2)
	s.Require().ErrorIs(err, ledger.ErrVersionConflict)

	row, err := s.store.Get(s.ctx, e)
	s.Require().NoError(err)
	s.Equal(ledger.StatusPending, row.Status)
}

func (s *PostgresStoreSuite) TestMarkIndexedUnknownEntity() {
	err := s.store.MarkIndexed(s.ctx, s.entity("never"), 1)
	s.Require().ErrorIs(err, ledger.ErrEntityNotFound)
}

func (s *PostgresStoreSuite) TestMarkRemoved() {
	e := s.entity("e4")
	s.Require().NoError(s.store.Advance(s.ctx, e, 2))
	s.Require().NoError(s.store.MarkRemoved(s.ctx, e, 2))

	row, err := s.store.Get(s.ctx, e)
	s.Require().NoError(err)
	s.Equal(ledger.StatusRemoved, row.Status)
	s.True(row.Visible(2))
}

func (s *PostgresStoreSuite) TestMarkFailedAccumulates() {
	e := s.entity("e5")
	s.Require().NoError(s.store.Advance(s.ctx, e, 1))
	s.Require().NoError(s.store.MarkFailed(s.ctx, e, 1, errors.New("engine down")))
	s.Require().NoError(s.store.MarkFailed(s.ctx, e, 1, errors.New("engine still down")))

	row, err := s.store.Get(s.ctx, e)
	s.Require().NoError(err)
	s.Equal(ledger.StatusFailed, row.Status)
	s.Equal(2, row.RetryCount)
	s.Equal("engine still down", row.LastError)
}

func (s *PostgresStoreSuite) TestStaleFailureKeepsIndexedRow() {
	e := s.entity("e7")
	s.Require().NoError(s.store.Advance(s.ctx, e, 3))
	s.Require().NoError(s.store.MarkIndexed(s.ctx, e, 3))

	err := s.store.MarkFailed(s.ctx, e, 2, errors.New("engine down"))
	s.Require().ErrorIs(err, ledger.ErrVersionConflict)

	row, err := s.store.Get(s.ctx, e)
	s.Require().NoError(err)
	s.Equal(ledger.StatusIndexed, row.Status)
	s.Equal(int64(3), row.Version)
	s.True(row.Visible(3))
}

func (s *PostgresStoreSuite) TestGetUnknown() {
	_, err := s.store.Get(s.ctx, s.entity("missing"))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// Row-level security: a tenant-bound role sees only rows for the tenant its
// session GUC names, and nothing at all when the GUC is unset.
func (s *PostgresStoreSuite) TestTenantIsolation() {
	s.Require().NoError(s.store.Advance(s.ctx, domain.EntityRef{Tenant: "acme", Type: "event", ID: "a1"}, 1))
	s.Require().NoError(s.store.Advance(s.ctx, domain.EntityRef{Tenant: "globex", Type: "event", ID: "g1"}, 1))

	// Pin one connection so SET ROLE and the session GUC stay together.
	conn, err := s.postgres.DB.Conn(s.ctx)
	s.Require().NoError(err)
	defer conn.Close()
	defer func() {
		// The pool reuses this connection; scrub the session state.
		_, _ = conn.ExecContext(s.ctx, "RESET ROLE")
		_, _ = conn.ExecContext(s.ctx, "RESET app.tenant_id")
	}()
	_, err = conn.ExecContext(s.ctx, "SET ROLE searchsync_app")
	s.Require().NoError(err)

	countRows := func() int {
		var n int
		s.Require().NoError(conn.QueryRowContext(s.ctx, "SELECT count(*) FROM index_versions").Scan(&n))
		return n
	}

	// GUC unset: the policy fails closed.
	s.Zero(countRows())

	// Bound to acme: exactly acme's row, nothing cross-tenant.
	_, err = conn.ExecContext(s.ctx, "SELECT set_config('app.tenant_id', 'acme', false)")
	s.Require().NoError(err)
	s.Equal(1, countRows())

	var tenant string
	s.Require().NoError(conn.QueryRowContext(s.ctx, "SELECT tenant_id FROM index_versions").Scan(&tenant))
	s.Equal("acme", tenant)

	// Writes for another tenant are rejected by the policy's check.
	_, err = conn.ExecContext(s.ctx,
		"INSERT INTO index_versions (tenant_id, entity_type, entity_id, version) VALUES ('globex', 'event', 'g2', 1)")
	s.Require().Error(err)

	// The indexer role spans tenants.
	_, err = conn.ExecContext(s.ctx, "SET ROLE searchsync_indexer")
	s.Require().NoError(err)
	s.Equal(2, countRows())
}

// Concurrent completions for the same entity: the highest version wins no
// matter the arrival order.
func (s *PostgresStoreSuite) TestConcurrentCompletions() {
	e := s.entity("e6")
	s.Require().NoError(s.store.Advance(s.ctx, e, 10))

	done := make(chan error, 10)
	for v := int64(1); v <= 10; v++ {
		go func(v int64) {
			done <- s.store.MarkIndexed(s.ctx, e, v)
		}(v)
	}
	for i := 0; i < 10; i++ {
		err := <-done
		if err != nil {
			s.Require().ErrorIs(err, ledger.ErrVersionConflict)
		}
	}

	row, err := s.store.Get(s.ctx, e)
	s.Require().NoError(err)
	s.Equal(int64(10), row.Version)
	s.Equal(ledger.StatusIndexed, row.Status)
}
