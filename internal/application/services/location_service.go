package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/localdirectory/telemetry-core/internal/domain/entities"
	"github.com/localdirectory/telemetry-core/internal/domain/providers"
	"github.com/localdirectory/telemetry-core/internal/infrastructure/observability"
	"github.com/localdirectory/telemetry-core/pkg/clock"
	"github.com/localdirectory/telemetry-core/pkg/config"
	apperrors "github.com/localdirectory/telemetry-core/pkg/errors"
)

const (
	defaultCacheTTL           = 10 * time.Minute
	defaultMinRefreshInterval = time.Minute
	defaultForegroundInterval = 10 * time.Minute
)

// LocationService owns the current location record, refreshes it on a self-rescheduling
// timer and resolves the coordinates attached to API calls.
type LocationService struct {
	store    providers.KeyValueStore
	provider providers.LocationProvider
	notifier *LocationNotifier
	clock    clock.Clock
	metrics  *observability.Metrics
	logger   zerolog.Logger

	ttl                time.Duration
	minRefresh         time.Duration
	foregroundInterval time.Duration
	defaults           entities.Coordinates

	mu           sync.Mutex
	initialized  bool
	current      *entities.LocationRecord
	manual       *entities.ManualOverride
	lastFix      time.Time
	inFlight     bool
	refreshTimer clock.Timer
	stopped      bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewLocationService creates a location service. metrics may be nil.
func NewLocationService(
	store providers.KeyValueStore,
	provider providers.LocationProvider,
	notifier *LocationNotifier,
	cfg config.LocationConfig,
	clk clock.Clock,
	metrics *observability.Metrics,
) *LocationService {
	if clk == nil {
		clk = clock.New()
	}
	if notifier == nil {
		notifier = NewLocationNotifier()
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	minRefresh := cfg.MinRefreshInterval
	if minRefresh <= 0 {
		minRefresh = defaultMinRefreshInterval
	}
	foreground := cfg.ForegroundInterval
	if foreground <= 0 {
		foreground = defaultForegroundInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LocationService{
		store:              store,
		provider:           provider,
		notifier:           notifier,
		clock:              clk,
		metrics:            metrics,
		logger:             observability.GetLogger().With().Str("component", "location").Logger(),
		ttl:                ttl,
		minRefresh:         minRefresh,
		foregroundInterval: foreground,
		defaults: entities.Coordinates{
			Latitude:  cfg.DefaultLatitude,
			Longitude: cfg.DefaultLongitude,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Notifier returns the notifier fired on effective location changes
func (s *LocationService) Notifier() *LocationNotifier {
	return s.notifier
}

// Initialize restores the persisted record on first call. A still-valid record is
// returned as is and the next refresh is scheduled for when it expires; otherwise a
// fresh acquisition runs. Later calls behave like CurrentLocation.
func (s *LocationService) Initialize(ctx context.Context) entities.LocationRecord {
	s.mu.Lock()
	if s.initialized {
		s.mu.Unlock()
		return s.CurrentLocation(ctx)
	}
	s.initialized = true
	s.mu.Unlock()

	stored, ok := s.loadRecord(ctx)

	now := s.clock.Now()
	s.mu.Lock()
	if ok {
		restored := stored.WithSource(entities.LocationSourceCache)
		s.current = &restored
		if stored.Source == entities.LocationSourceGPS {
			s.lastFix = stored.Time()
		}
	}
	s.mu.Unlock()

	if ok && stored.IsValid(now, s.ttl) {
		s.logger.Info().
			Float64("age_minutes", stored.Age(now).Minutes()).
			Msg("Restored cached location")
		s.scheduleRefresh(s.ttl - stored.Age(now))
		return stored.WithSource(entities.LocationSourceCache)
	}

	record, _ := s.acquire(ctx)
	return record
}

// CurrentLocation returns the in-memory record while it is valid, otherwise it acquires
// a fresh one
func (s *LocationService) CurrentLocation(ctx context.Context) entities.LocationRecord {
	s.mu.Lock()
	if s.current != nil && s.current.IsValid(s.clock.Now(), s.ttl) {
		record := s.current.WithSource(s.current.Source)
		s.mu.Unlock()
		return record
	}
	s.mu.Unlock()

	record, _ := s.acquire(ctx)
	return record
}

// RefreshLocation acquires a fresh record regardless of the cached one
func (s *LocationService) RefreshLocation(ctx context.Context) entities.LocationRecord {
	record, _ := s.acquire(ctx)
	return record
}

// RequestLocationUpdate refreshes on an explicit user request. On success the manual
// override is cleared and listeners are notified before returning.
func (s *LocationService) RequestLocationUpdate(ctx context.Context) entities.LocationUpdateResult {
	record, err := s.acquire(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Requested location update failed")
		return entities.LocationUpdateResult{
			Success:  false,
			Location: &record,
			Message:  fmt.Sprintf("failed to update location: %v", err),
		}
	}

	s.mu.Lock()
	s.manual = nil
	s.mu.Unlock()

	s.notifier.Notify()

	message := "location updated"
	if record.Source == entities.LocationSourceDefault {
		message = "location unavailable, using default location"
	}
	return entities.LocationUpdateResult{
		Success:  true,
		Location: &record,
		Message:  message,
	}
}

// SetManualLocation installs an override that wins over any GPS record and notifies
// listeners before returning
func (s *LocationService) SetManualLocation(override entities.ManualOverride) {
	s.mu.Lock()
	s.manual = &override
	s.mu.Unlock()

	s.logger.Info().Str("name", override.Name).Msg("Manual location set")
	s.notifier.Notify()
}

// ClearManualLocation removes the override
func (s *LocationService) ClearManualLocation() {
	s.mu.Lock()
	s.manual = nil
	s.mu.Unlock()
}

// ManualLocation returns the active override, if any
func (s *LocationService) ManualLocation() (*entities.ManualOverride, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.manual == nil {
		return nil, false
	}
	override := *s.manual
	return &override, true
}

// LastRecord returns the current record without triggering an acquisition
func (s *LocationService) LastRecord() (entities.LocationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return entities.LocationRecord{}, false
	}
	return s.current.WithSource(s.current.Source), true
}

// CoordinatesForAPI resolves override, then current record, then the default
// coordinates. It never blocks on acquisition.
func (s *LocationService) CoordinatesForAPI() entities.Coordinates {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.manual != nil:
		return s.manual.Coordinates()
	case s.current != nil:
		return s.current.Coordinates()
	default:
		return s.defaults
	}
}

// LocationAge returns the current record's age in minutes, +Inf when there is none
func (s *LocationService) LocationAge() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return math.Inf(1)
	}
	return s.current.Age(s.clock.Now()).Minutes()
}

// OnForeground starts a background acquisition when the last successful fix is older than
// the foreground interval. Denied or failed attempts do not count. It does not wait for
// the acquisition.
func (s *LocationService) OnForeground(ctx context.Context) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if !s.lastFix.IsZero() && s.clock.Now().Sub(s.lastFix) < s.foregroundInterval {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Debug().Msg("Foreground refresh triggered")
	go func() {
		defer s.wg.Done()
		_, _ = s.acquire(s.ctx)
	}()
}

// Wait blocks until background acquisitions started by the service have finished
func (s *LocationService) Wait() {
	s.wg.Wait()
}

// Stop cancels the refresh timer and waits for background acquisitions
func (s *LocationService) Stop() {
	s.mu.Lock()
	s.stopped = true
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info().Msg("Location service stopped")
}

// acquire runs one acquisition. Overlapping calls return the current record (or the
// default) immediately. The returned record is always usable; err is set only when the
// platform layer failed.
func (s *LocationService) acquire(ctx context.Context) (entities.LocationRecord, error) {
	s.mu.Lock()
	if s.inFlight {
		record := s.fallbackLocked()
		s.mu.Unlock()
		s.logger.Debug().Msg("Acquisition already in flight")
		return record, nil
	}
	s.inFlight = true
	s.mu.Unlock()

	ctx, span := observability.StartSpan(ctx, "location.acquire")
	defer span.End()

	record, err := s.acquireFromProvider(ctx)
	if err != nil {
		observability.RecordError(span, err)
	}
	span.SetAttributes(attribute.String("location.source", string(record.Source)))

	s.persist(ctx, record)

	s.mu.Lock()
	s.current = &record
	if err == nil && record.Source == entities.LocationSourceGPS {
		s.lastFix = record.Time()
	}
	s.inFlight = false
	s.mu.Unlock()

	observability.RecordLocationAcquisition(ctx, s.metrics, string(record.Source))
	s.scheduleRefresh(s.ttl)

	return record.WithSource(record.Source), err
}

func (s *LocationService) acquireFromProvider(ctx context.Context) (entities.LocationRecord, error) {
	status, err := s.provider.RequestPermission(ctx)
	if apperrors.IsType(err, apperrors.ErrorTypePermission) {
		return s.permissionDenied(string(providers.PermissionDenied)), nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Location permission request failed, using last known location")
		return s.lastKnownFallback(), apperrors.NewExternalError("location permission request failed", err)
	}
	if status != providers.PermissionGranted {
		return s.permissionDenied(string(status)), nil
	}

	position, err := s.provider.CurrentPosition(ctx)
	if apperrors.IsType(err, apperrors.ErrorTypePermission) {
		return s.permissionDenied(string(providers.PermissionDenied)), nil
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("Location acquisition failed, using last known location")
		return s.lastKnownFallback(), apperrors.NewExternalError("location acquisition failed", err)
	}

	coords := entities.Coordinates{Latitude: position.Latitude, Longitude: position.Longitude}
	s.logger.Debug().Float64("latitude", coords.Latitude).Float64("longitude", coords.Longitude).Msg("Acquired location")
	return entities.NewLocationRecord(coords, position.Accuracy, entities.LocationSourceGPS, s.clock.Now()), nil
}

func (s *LocationService) permissionDenied(status string) entities.LocationRecord {
	s.logger.Info().Str("permission", status).Msg("Location permission not granted, using default location")
	return entities.NewLocationRecord(s.defaults, nil, entities.LocationSourceDefault, s.clock.Now())
}

// lastKnownFallback re-stamps the last known coordinates as a default-source record
func (s *LocationService) lastKnownFallback() entities.LocationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	coords := s.defaults
	var accuracy *float64
	if s.current != nil {
		coords = s.current.Coordinates()
		accuracy = s.current.Accuracy
	}
	return entities.NewLocationRecord(coords, accuracy, entities.LocationSourceDefault, s.clock.Now())
}

func (s *LocationService) fallbackLocked() entities.LocationRecord {
	if s.current != nil {
		return s.current.WithSource(s.current.Source)
	}
	return entities.NewLocationRecord(s.defaults, nil, entities.LocationSourceDefault, s.clock.Now())
}

func (s *LocationService) scheduleRefresh(d time.Duration) {
	if d < s.minRefresh {
		d = s.minRefresh
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
	s.refreshTimer = s.clock.AfterFunc(d, s.onRefreshTimer)
}

func (s *LocationService) onRefreshTimer() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.refreshTimer = nil
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	_, _ = s.acquire(s.ctx)
}

func (s *LocationService) persist(ctx context.Context, record entities.LocationRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode location record")
		return
	}
	if err := s.store.Set(ctx, providers.StoreKeyCachedLocation, data); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist location record")
	}

	attempt := strconv.FormatInt(s.clock.Now().UnixMilli(), 10)
	if err := s.store.Set(ctx, providers.StoreKeyLastLocationUpdate, []byte(attempt)); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist last location update")
	}
}

func (s *LocationService) loadRecord(ctx context.Context) (entities.LocationRecord, bool) {
	data, err := s.store.Get(ctx, providers.StoreKeyCachedLocation)
	if err != nil {
		if !apperrors.IsNotFound(err) {
			s.logger.Warn().Err(err).Msg("Failed to read cached location")
		}
		return entities.LocationRecord{}, false
	}

	var record entities.LocationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		s.logger.Warn().Err(err).Msg("Discarding unreadable cached location")
		return entities.LocationRecord{}, false
	}
	return record, true
}
