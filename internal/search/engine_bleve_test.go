package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"searchsync/pkg/platform/sentinel"
)

type BleveEngineSuite struct {
	suite.Suite
	engine *BleveEngine
	ctx    context.Context
}

func TestBleveEngineSuite(t *testing.T) {
	suite.Run(t, new(BleveEngineSuite))
}

func (s *BleveEngineSuite) SetupTest() {
	engine, err := OpenBleve(s.T().TempDir())
	s.Require().NoError(err)
	s.engine = engine
	s.T().Cleanup(func() { _ = engine.Close() })
	s.ctx = context.Background()
}

func (s *BleveEngineSuite) TestDocumentLifecycle() {
	s.Require().NoError(s.engine.CreateIndex(s.ctx, "event_1", nil))
	s.Require().NoError(s.engine.SwapAlias(s.ctx, "event", "event_1", nil))

	s.Require().NoError(s.engine.UpsertDocument(s.ctx, "event", "acme:e1", Document{"title": "gig"}))
	s.Require().NoError(s.engine.UpsertDocument(s.ctx, "event", "acme:e2", Document{"title": "fair"}))

	count, err := s.engine.DocCount(s.ctx, "event_1")
	s.Require().NoError(err)
	s.Equal(uint64(2), count)

	s.Require().NoError(s.engine.DeleteDocument(s.ctx, "event", "acme:e1"))
	count, err = s.engine.DocCount(s.ctx, "event_1")
	s.Require().NoError(err)
	s.Equal(uint64(1), count)
}

func (s *BleveEngineSuite) TestCreateIndexConflicts() {
	s.Require().NoError(s.engine.CreateIndex(s.ctx, "event_1", nil))
	err := s.engine.CreateIndex(s.ctx, "event_1", nil)
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

func (s *BleveEngineSuite) TestUnknownTargetRejected() {
	err := s.engine.UpsertDocument(s.ctx, "missing", "d1", Document{"a": 1})
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *BleveEngineSuite) TestDeleteIndexRefusedWhileAliased() {
	s.Require().NoError(s.engine.CreateIndex(s.ctx, "event_1", nil))
	s.Require().NoError(s.engine.SwapAlias(s.ctx, "event", "event_1", nil))

	err := s.engine.DeleteIndex(s.ctx, "event_1")
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)
}

func (s *BleveEngineSuite) TestSwapAndCopy() {
	s.Require().NoError(s.engine.CreateIndex(s.ctx, "event_1", nil))
	s.Require().NoError(s.engine.SwapAlias(s.ctx, "event", "event_1", nil))
	s.Require().NoError(s.engine.UpsertDocument(s.ctx, "event", "acme:e1", Document{"title": "gig"}))

	s.Require().NoError(s.engine.CreateIndex(s.ctx, "event_2", nil))
	copied, err := s.engine.Copy(s.ctx, "event_1", "event_2")
	s.Require().NoError(err)
	s.Equal(1, copied)

	s.Require().NoError(s.engine.SwapAlias(s.ctx, "event", "event_2", []string{"event_1"}))

	targets, err := s.engine.AliasTargets(s.ctx, "event")
	s.Require().NoError(err)
	s.Equal([]string{"event_2"}, targets)

	// The old generation is detached and can now be deleted.
	s.Require().NoError(s.engine.DeleteIndex(s.ctx, "event_1"))

	count, err := s.engine.DocCount(s.ctx, "event")
	s.Require().NoError(err)
	s.Equal(uint64(1), count)
}

// Aliases rebind from their marker files when the engine reopens, so a swap
// survives a restart.
func (s *BleveEngineSuite) TestAliasSurvivesReopen() {
	dir := s.T().TempDir()
	engine, err := OpenBleve(dir)
	s.Require().NoError(err)

	ctx := context.Background()
	s.Require().NoError(engine.CreateIndex(ctx, "event_1", nil))
	s.Require().NoError(engine.SwapAlias(ctx, "event", "event_1", nil))
	s.Require().NoError(engine.UpsertDocument(ctx, "event", "acme:e1", Document{"title": "gig"}))
	s.Require().NoError(engine.Close())

	reopened, err := OpenBleve(dir)
	s.Require().NoError(err)
	defer reopened.Close()

	targets, err := reopened.AliasTargets(ctx, "event")
	s.Require().NoError(err)
	s.Equal([]string{"event_1"}, targets)

	count, err := reopened.DocCount(ctx, "event")
	s.Require().NoError(err)
	s.Equal(uint64(1), count)
}
