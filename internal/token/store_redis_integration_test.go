//go:build integration

package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"searchsync/internal/domain"
	"searchsync/internal/token"
	"searchsync/pkg/platform/sentinel"
	"searchsync/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *token.RedisStore
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = token.NewRedisStore(s.redis.Client)
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) TearDownSuite() {
	_ = s.redis.Client.Close()
	_ = s.redis.Container.Terminate(context.Background())
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisStoreSuite) token(id string, ttl time.Duration) *token.Token {
	now := time.Now()
	return &token.Token{
		ID:       id,
		ClientID: "client-1",
		Tenant:   "acme",
		Required: []domain.Write{{
			Entity:  domain.EntityRef{Tenant: "acme", Type: "event", ID: "e1"},
			Version: 3,
		}},
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func (s *RedisStoreSuite) TestSaveAndGet() {
	t := s.token("t1", time.Minute)
	s.Require().NoError(s.store.Save(s.ctx, t))

	got, err := s.store.Get(s.ctx, "t1")
	s.Require().NoError(err)
	s.Equal(t.ID, got.ID)
	s.Equal(t.Tenant, got.Tenant)
	s.Require().Len(got.Required, 1)
	s.Equal(int64(3), got.Required[0].Version)
	s.WithinDuration(t.ExpiresAt, got.ExpiresAt, time.Second)
}

func (s *RedisStoreSuite) TestGetUnknown() {
	_, err := s.store.Get(s.ctx, "missing")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestDelete() {
	t := s.token("t2", time.Minute)
	s.Require().NoError(s.store.Save(s.ctx, t))
	s.Require().NoError(s.store.Delete(s.ctx, "t2"))

	_, err := s.store.Get(s.ctx, "t2")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// The key TTL tracks ExpiresAt, so Redis reclaims tokens on its own.
func (s *RedisStoreSuite) TestKeyExpires() {
	t := s.token("t3", 200*time.Millisecond)
	s.Require().NoError(s.store.Save(s.ctx, t))

	_, err := s.store.Get(s.ctx, "t3")
	s.Require().NoError(err)

	s.Require().Eventually(func() bool {
		_, err := s.store.Get(s.ctx, "t3")
		return err != nil
	}, 2*time.Second, 50*time.Millisecond)
}
