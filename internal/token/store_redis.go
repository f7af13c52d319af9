package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"searchsync/pkg/platform/sentinel"
)

// Redis key prefix for consistency tokens.
const tokenKeyPrefix = "ct:"

// RedisStore is the recommended token store for multi-instance deployments:
// tokens are short-lived and Redis TTLs reclaim them without a janitor.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, t *Token) error {
	value, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	ttl := time.Until(t.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token already expired: %w", sentinel.ErrInvalidState)
	}
	if err := s.client.Set(ctx, tokenKeyPrefix+t.ID, value, ttl).Err(); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Token, error) {
	raw, err := s.client.Get(ctx, tokenKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("token %q: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	return &t, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, tokenKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}
