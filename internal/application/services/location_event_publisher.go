package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/localdirectory/telemetry-core/internal/domain/entities"
	"github.com/localdirectory/telemetry-core/internal/domain/providers"
	"github.com/localdirectory/telemetry-core/internal/infrastructure/observability"
	"github.com/localdirectory/telemetry-core/pkg/clock"
)

const publishTimeout = 5 * time.Second

// LocationEventPublisher forwards effective location changes onto the event bus and
// applies manual overrides published by other processes on the same namespace
type LocationEventPublisher struct {
	bus      providers.EventBus
	location *LocationService
	channel  string
	origin   string
	clock    clock.Clock
	logger   zerolog.Logger

	mu          sync.Mutex
	started     bool
	unsubscribe func()

	// applying is the remote override being installed; its notification is not republished
	applying *entities.ManualOverride

	wg       sync.WaitGroup
	listenWG sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewLocationEventPublisher creates a publisher for the namespace's location channel
func NewLocationEventPublisher(bus providers.EventBus, location *LocationService, namespace string, clk clock.Clock) *LocationEventPublisher {
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &LocationEventPublisher{
		bus:      bus,
		location: location,
		channel:  providers.GetLocationChannel(namespace),
		origin:   uuid.NewString(),
		clock:    clk,
		logger:   observability.GetLogger().With().Str("component", "location_publisher").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Origin returns the id stamped on events published by this process
func (p *LocationEventPublisher) Origin() string {
	return p.origin
}

// Start subscribes to the location channel and to the location notifier
func (p *LocationEventPublisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	events, err := p.bus.Subscribe(p.ctx, p.channel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to location events: %w", err)
	}

	p.started = true
	p.unsubscribe = p.location.Notifier().Subscribe(p.onLocationChanged)

	p.listenWG.Add(1)
	go p.processEvents(events)

	p.logger.Info().Str("channel", p.channel).Str("origin", p.origin).Msg("Location event publisher started")
	return nil
}

// Stop unsubscribes from the notifier and the bus, then waits for in-flight work
func (p *LocationEventPublisher) Stop() {
	p.mu.Lock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	p.mu.Unlock()

	p.cancel()
	p.listenWG.Wait()
	p.wg.Wait()
}

// Wait blocks until in-flight publishes have finished
func (p *LocationEventPublisher) Wait() {
	p.wg.Wait()
}

func (p *LocationEventPublisher) processEvents(events <-chan *entities.LocationChangedEvent) {
	defer p.listenWG.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			p.handleEvent(event)
		}
	}
}

// handleEvent installs manual overrides set elsewhere. Our own events and GPS or default
// changes of other processes are ignored.
func (p *LocationEventPublisher) handleEvent(event *entities.LocationChangedEvent) {
	if event.Origin == p.origin || event.Source != entities.LocationChangedSourceManual {
		return
	}

	override := entities.ManualOverride{
		Name:      event.OverrideName,
		Latitude:  event.Coordinates.Latitude,
		Longitude: event.Coordinates.Longitude,
		Division:  event.Division,
	}
	if current, ok := p.location.ManualLocation(); ok && *current == override {
		return
	}

	p.logger.Info().Str("event_id", event.ID).Str("origin", event.Origin).Str("name", override.Name).Msg("Applying manual location from another process")

	p.mu.Lock()
	p.applying = &override
	p.mu.Unlock()

	p.location.SetManualLocation(override)

	p.mu.Lock()
	p.applying = nil
	p.mu.Unlock()
}

func (p *LocationEventPublisher) onLocationChanged() {
	if p.isApplying() {
		return
	}
	event := p.buildEvent()

	// the notifier runs callbacks on the caller's goroutine; keep the bus off that path
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		if err := p.bus.Publish(ctx, p.channel, event); err != nil {
			p.logger.Warn().Err(err).Str("event_id", event.ID).Msg("Failed to publish location event")
		}
	}()
}

func (p *LocationEventPublisher) isApplying() bool {
	p.mu.Lock()
	applying := p.applying
	p.mu.Unlock()

	if applying == nil {
		return false
	}
	current, ok := p.location.ManualLocation()
	return ok && *current == *applying
}

func (p *LocationEventPublisher) buildEvent() *entities.LocationChangedEvent {
	coords := p.location.CoordinatesForAPI()
	now := p.clock.Now()

	var event *entities.LocationChangedEvent
	if override, ok := p.location.ManualLocation(); ok {
		event = entities.NewLocationChangedEvent(coords, entities.LocationChangedSourceManual, now)
		event.OverrideName = override.Name
		event.Division = override.Division
	} else {
		source := string(entities.LocationSourceDefault)
		if record, ok := p.location.LastRecord(); ok {
			source = string(record.Source)
		}
		event = entities.NewLocationChangedEvent(coords, source, now)
	}
	event.Origin = p.origin
	return event
}
