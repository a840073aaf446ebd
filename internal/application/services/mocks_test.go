package services_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/localdirectory/telemetry-core/internal/domain/entities"
	"github.com/localdirectory/telemetry-core/internal/domain/providers"
)

// Mocks

type MockLocationProvider struct {
	mock.Mock
}

func (m *MockLocationProvider) RequestPermission(ctx context.Context) (providers.PermissionStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(providers.PermissionStatus), args.Error(1)
}

func (m *MockLocationProvider) CurrentPosition(ctx context.Context) (*providers.Position, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.Position), args.Error(1)
}

type MockInteractionSender struct {
	mock.Mock

	mu      sync.Mutex
	batches []entities.BatchPayload
	singles []entities.InteractionPayload
}

func (m *MockInteractionSender) SendInteraction(ctx context.Context, payload entities.InteractionPayload) error {
	m.mu.Lock()
	m.singles = append(m.singles, payload)
	m.mu.Unlock()
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockInteractionSender) SendBatch(ctx context.Context, payload entities.BatchPayload) error {
	m.mu.Lock()
	m.batches = append(m.batches, payload)
	m.mu.Unlock()
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockInteractionSender) Batches() []entities.BatchPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entities.BatchPayload(nil), m.batches...)
}

func (m *MockInteractionSender) Singles() []entities.InteractionPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entities.InteractionPayload(nil), m.singles...)
}

type fakeAuth struct {
	mu      sync.Mutex
	session *entities.AuthSession
}

func (f *fakeAuth) Current(ctx context.Context) (*entities.AuthSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, false
	}
	s := *f.session
	return &s, true
}

func (f *fakeAuth) LoginAt(at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = &entities.AuthSession{Token: "token", UserID: "user-1", LoggedInAt: at}
}

func (f *fakeAuth) Logout() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session = nil
}

type fixedCoordinates struct {
	coords entities.Coordinates
}

func (f fixedCoordinates) CoordinatesForAPI() entities.Coordinates {
	return f.coords
}

type recordingEventBus struct {
	mu           sync.Mutex
	published    []*entities.LocationChangedEvent
	channels     []string
	subscribed   []string
	incoming     chan *entities.LocationChangedEvent
	err          error
	subscribeErr error
}

func (b *recordingEventBus) Publish(ctx context.Context, channel string, event *entities.LocationChangedEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel)
	b.published = append(b.published, event)
	return b.err
}

func (b *recordingEventBus) Subscribe(ctx context.Context, channel string) (<-chan *entities.LocationChangedEvent, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	b.subscribed = append(b.subscribed, channel)
	b.incoming = make(chan *entities.LocationChangedEvent, 8)
	return b.incoming, nil
}

// Deliver hands event to the current subscriber as if another process published it
func (b *recordingEventBus) Deliver(event *entities.LocationChangedEvent) {
	b.mu.Lock()
	incoming := b.incoming
	b.mu.Unlock()
	incoming <- event
}

func (b *recordingEventBus) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subscribed...)
}

func (b *recordingEventBus) Close() error {
	return nil
}

func (b *recordingEventBus) Events() []*entities.LocationChangedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*entities.LocationChangedEvent(nil), b.published...)
}

func floatPtr(v float64) *float64 {
	return &v
}
