package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/localdirectory/telemetry-core/internal/domain/providers"
	redisclient "github.com/localdirectory/telemetry-core/internal/infrastructure/clients/redis"
	apperrors "github.com/localdirectory/telemetry-core/pkg/errors"
)

// RedisStore implements KeyValueStore on Redis strings. Keys are prefixed with the
// namespace so several devices or agents can share one server.
type RedisStore struct {
	client    *redisclient.Client
	namespace string
}

// NewRedisStore creates a new Redis-backed store
func NewRedisStore(client *redisclient.Client, namespace string) providers.KeyValueStore {
	return &RedisStore{
		client:    client,
		namespace: namespace,
	}
}

func (s *RedisStore) key(key string) string {
	if s.namespace == "" {
		return key
	}
	return s.namespace + ":" + key
}

// Get retrieves a value
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.Client().Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.NewNotFoundError("key not found: " + key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from redis: %w", key, err)
	}
	return result, nil
}

// Set stores a value without expiration; TTLs are enforced by the services reading it
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Client().Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", key, err)
	}
	return nil
}

// Delete removes a value
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Client().Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s from redis: %w", key, err)
	}
	return nil
}
