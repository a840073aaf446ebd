package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/localdirectory/telemetry-core/internal/adapters/auth"
	"github.com/localdirectory/telemetry-core/internal/adapters/database"
	"github.com/localdirectory/telemetry-core/internal/adapters/events"
	"github.com/localdirectory/telemetry-core/internal/adapters/providers/geolocation"
	"github.com/localdirectory/telemetry-core/internal/adapters/store"
	"github.com/localdirectory/telemetry-core/internal/application/services"
	"github.com/localdirectory/telemetry-core/internal/domain/providers"
	"github.com/localdirectory/telemetry-core/internal/infrastructure/clients/api"
	"github.com/localdirectory/telemetry-core/internal/infrastructure/clients/postgres"
	"github.com/localdirectory/telemetry-core/internal/infrastructure/clients/redis"
	"github.com/localdirectory/telemetry-core/internal/infrastructure/observability"
	"github.com/localdirectory/telemetry-core/pkg/clock"
	"github.com/localdirectory/telemetry-core/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	observability.InitLogger(cfg.App.Name, cfg.App.Env, cfg.App.LogLevel)
	logger := observability.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry if enabled
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("Failed to shut down OpenTelemetry")
				}
			}()
			logger.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize metrics")
	}

	// Persistent key-value store
	var (
		kv          providers.KeyValueStore
		redisClient *redis.Client
		pgClient    *postgres.Client
	)
	switch cfg.Store.Driver {
	case "redis":
		redisClient, err = redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		kv = store.NewRedisStore(redisClient, cfg.Store.Namespace)
	case "postgres":
		pgClient, err = postgres.NewClient(ctx, &cfg.Database)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pgClient.Close()
		adapter := database.NewKVStoreAdapter(pgClient, cfg.Store.Namespace)
		if err := adapter.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to prepare key-value table")
		}
		kv = adapter
	default:
		logger.Warn().Msg("Using in-memory store, pending interactions will not survive a restart")
		kv = store.NewMemoryStore()
	}

	var locationProvider providers.LocationProvider
	switch cfg.Location.Provider {
	case "http":
		locationProvider = geolocation.NewHTTPProvider(cfg.Location.ProviderURL, cfg.Location.RetryAttempts)
	default:
		locationProvider = geolocation.NewStaticProvider(
			cfg.Location.PermissionGranted,
			cfg.Location.StaticLatitude,
			cfg.Location.StaticLongitude,
			cfg.Location.StaticAccuracy,
		)
	}

	// Auth session
	sessions := auth.NewSessionStore(kv)
	if err := sessions.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to restore auth session")
	}
	if cfg.API.Token != "" {
		loginAt := cfg.API.LoginAt
		if loginAt.IsZero() {
			loginAt = time.Now()
		}
		if err := sessions.Login(ctx, cfg.API.Token, cfg.API.UserID, loginAt); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist auth session")
		}
	}

	apiClient := api.NewClient(&cfg.API, sessions)

	locationService := services.NewLocationService(
		kv,
		locationProvider,
		services.NewLocationNotifier(),
		cfg.Location,
		clock.New(),
		metrics,
	)

	tracker := services.NewInteractionTracker(
		apiClient,
		sessions,
		locationService,
		kv,
		cfg.Tracking,
		clock.New(),
		metrics,
	)

	var publisher *services.LocationEventPublisher
	if redisClient != nil {
		bus := events.NewRedisEventBus(redisClient)
		defer bus.Close()
		publisher = services.NewLocationEventPublisher(bus, locationService, cfg.Store.Namespace, nil)
		if err := publisher.Start(); err != nil {
			logger.Warn().Err(err).Msg("Location events disabled")
			publisher = nil
		}
	}

	record := locationService.Initialize(ctx)
	logger.Info().
		Float64("latitude", record.Latitude).
		Float64("longitude", record.Longitude).
		Str("source", string(record.Source)).
		Msg("Location initialized")

	if err := tracker.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start interaction tracker")
	}
	logger.Info().Str("session_id", tracker.SessionID()).Msg("Telemetry agent started")

	// SIGUSR1 behaves like the host returning to the foreground, SIGUSR2 forces a flush
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)

loop:
	for sig := range sigs {
		switch sig {
		case syscall.SIGUSR1:
			locationService.OnForeground(ctx)
			continue
		case syscall.SIGUSR2:
			if err := tracker.Flush(ctx); err != nil {
				logger.Warn().Err(err).Msg("Manual flush failed")
			}
			continue
		}
		break loop
	}
	signal.Stop(sigs)

	logger.Info().Msg("Shutting down telemetry agent...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	tracker.Stop(shutdownCtx)
	locationService.Stop()
	if publisher != nil {
		publisher.Stop()
	}

	logger.Info().Msg("Telemetry agent exited")
}
