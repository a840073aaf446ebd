package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localdirectory/telemetry-core/internal/domain/entities"
	"github.com/localdirectory/telemetry-core/internal/domain/providers"
	redisclient "github.com/localdirectory/telemetry-core/internal/infrastructure/clients/redis"
	"github.com/localdirectory/telemetry-core/pkg/config"
)

func TestRedisEventBusFanoutIntegration(t *testing.T) {
	host := os.Getenv("TEST_REDIS_HOST")
	if host == "" {
		t.Skip("Skipping integration test: TEST_REDIS_HOST not set")
	}

	client, err := redisclient.NewClient(context.Background(), &config.RedisConfig{Host: host, Port: 6379})
	require.NoError(t, err)
	defer client.Close()

	bus := NewRedisEventBus(client)
	defer bus.Close()

	channel := providers.GetLocationChannel("integration")
	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel1()
	defer cancel2()

	sub1, err := bus.Subscribe(ctx1, channel)
	require.NoError(t, err)
	sub2, err := bus.Subscribe(ctx2, channel)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	event := entities.NewLocationChangedEvent(entities.Coordinates{Latitude: 41.31, Longitude: 69.28}, entities.LocationChangedSourceManual, time.Now())
	require.NoError(t, bus.Publish(context.Background(), channel, event))

	for _, sub := range []<-chan *entities.LocationChangedEvent{sub1, sub2} {
		select {
		case received := <-sub:
			require.NotNil(t, received)
			assert.Equal(t, event.ID, received.ID)
			assert.Equal(t, event.Coordinates, received.Coordinates)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for location event")
		}
	}

	cancel1()
	select {
	case _, ok := <-sub1:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel not closed after cancel")
	}
}

func TestDecodeEvent(t *testing.T) {
	event := entities.NewLocationChangedEvent(entities.Coordinates{Latitude: 41.31, Longitude: 69.28}, entities.LocationChangedSourceManual, time.Now())
	event.Origin = "agent-1"
	event.OverrideName = "Chilonzor"
	data, err := json.Marshal(event)
	require.NoError(t, err)

	decoded, err := decodeEvent(string(data))
	require.NoError(t, err)
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "agent-1", decoded.Origin)
	assert.Equal(t, "Chilonzor", decoded.OverrideName)

	_, err = decodeEvent("not json")
	assert.Error(t, err)

	_, err = decodeEvent(`{"source":"manual"}`)
	assert.Error(t, err)
}
