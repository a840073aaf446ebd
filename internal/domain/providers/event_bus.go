package providers

import (
	"context"

	"github.com/localdirectory/telemetry-core/internal/domain/entities"
)

// EventBus defines the interface for publishing and subscribing to location events
type EventBus interface {
	// Publish publishes an event to all subscribers
	Publish(ctx context.Context, channel string, event *entities.LocationChangedEvent) error

	// Subscribe delivers events on a channel until ctx is done, then closes the channel
	Subscribe(ctx context.Context, channel string) (<-chan *entities.LocationChangedEvent, error)

	// Close closes the event bus and all subscriptions
	Close() error
}

// EventChannelLocationPrefix is the prefix for location channels
const EventChannelLocationPrefix = "location:"

// GetLocationChannel returns the channel carrying location changes for a namespace
func GetLocationChannel(namespace string) string {
	if namespace == "" {
		return EventChannelLocationPrefix + "changed"
	}
	return EventChannelLocationPrefix + namespace + ":changed"
}
