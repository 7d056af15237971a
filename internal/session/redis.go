package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists session values between requests.
type Store interface {
	// Load returns (nil, false, nil) when no session exists under key.
	Load(ctx context.Context, key string) (map[string]json.RawMessage, bool, error)
	Save(ctx context.Context, key string, values map[string]json.RawMessage, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const keyPrefix = "session:"

// RedisStore keeps each session as one JSON string with a TTL.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context, key string) (map[string]json.RawMessage, bool, error) {
	data, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("session: redis get: %w", err)
	}

	var values map[string]json.RawMessage
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, false, fmt.Errorf("session: decoding stored session: %w", err)
	}
	return values, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, values map[string]json.RawMessage, ttl time.Duration) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("session: encoding session: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}
