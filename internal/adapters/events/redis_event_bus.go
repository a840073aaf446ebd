package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/localdirectory/telemetry-core/internal/domain/entities"
	"github.com/localdirectory/telemetry-core/internal/domain/providers"
	redisclient "github.com/localdirectory/telemetry-core/internal/infrastructure/clients/redis"
	"github.com/localdirectory/telemetry-core/internal/infrastructure/observability"
)

// subscriberBuffer bounds how many undelivered events a slow subscriber may hold
const subscriberBuffer = 16

// RedisEventBus implements the EventBus interface using Redis Pub/Sub. Every Subscribe
// call owns its own PubSub connection.
type RedisEventBus struct {
	client *redisclient.Client
	logger zerolog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewRedisEventBus creates a new Redis-based event bus
func NewRedisEventBus(client *redisclient.Client) providers.EventBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisEventBus{
		client: client,
		logger: observability.GetLogger().With().Str("component", "event_bus").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Publish publishes an event to all subscribers
func (b *RedisEventBus) Publish(ctx context.Context, channel string, event *entities.LocationChangedEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Client().Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug().Str("channel", channel).Str("event_id", event.ID).Msg("Published location event")
	return nil
}

// Subscribe waits until Redis confirms the subscription, then delivers decoded events
// until ctx is done or the bus is closed. The returned channel is closed afterwards.
func (b *RedisEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.LocationChangedEvent, error) {
	pubsub := b.client.Client().Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	events := make(chan *entities.LocationChangedEvent, subscriberBuffer)
	b.wg.Add(1)
	go b.receive(ctx, channel, pubsub, events)

	b.logger.Info().Str("channel", channel).Msg("Subscribed to channel")
	return events, nil
}

func (b *RedisEventBus) receive(ctx context.Context, channel string, pubsub *redis.PubSub, events chan<- *entities.LocationChangedEvent) {
	defer b.wg.Done()
	defer close(events)
	defer func() {
		if err := pubsub.Close(); err != nil {
			b.logger.Warn().Err(err).Str("channel", channel).Msg("Failed to close subscription")
		}
	}()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			event, err := decodeEvent(msg.Payload)
			if err != nil {
				b.logger.Warn().Err(err).Str("channel", channel).Msg("Failed to unmarshal location event")
				continue
			}

			select {
			case events <- event:
			default:
				// location events are superseded by the next one
				b.logger.Warn().Str("channel", channel).Str("event_id", event.ID).Msg("Subscriber channel full, skipping event")
			}
		}
	}
}

func decodeEvent(payload string) (*entities.LocationChangedEvent, error) {
	var event entities.LocationChangedEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, err
	}
	if event.ID == "" {
		return nil, fmt.Errorf("location event without id")
	}
	return &event, nil
}

// Close ends every subscription and waits for them to shut down
func (b *RedisEventBus) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}
