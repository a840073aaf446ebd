package store

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/localdirectory/telemetry-core/internal/infrastructure/clients/redis"
	"github.com/localdirectory/telemetry-core/pkg/config"
	apperrors "github.com/localdirectory/telemetry-core/pkg/errors"
)

func TestRedisStoreIntegration(t *testing.T) {
	host := os.Getenv("TEST_REDIS_HOST")
	if host == "" {
		t.Skip("Skipping integration test: TEST_REDIS_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("TEST_REDIS_PORT"))
	if port == 0 {
		port = 6379
	}

	ctx := context.Background()
	client, err := redisclient.NewClient(ctx, &config.RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	defer client.Close()

	s := NewRedisStore(client, "telemetry-test")
	defer s.Delete(ctx, "pending_interactions")

	require.NoError(t, s.Set(ctx, "pending_interactions", []byte(`[]`)))
	got, err := s.Get(ctx, "pending_interactions")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))

	exists, err := client.Client().Exists(ctx, "telemetry-test:pending_interactions").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	require.NoError(t, s.Delete(ctx, "pending_interactions"))
	_, err = s.Get(ctx, "pending_interactions")
	assert.True(t, apperrors.IsNotFound(err))
}
