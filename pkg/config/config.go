package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig
	API      APIConfig
	Location LocationConfig
	Tracking TrackingConfig
	Store    StoreConfig
	Redis    RedisConfig
	Database DatabaseConfig
	OTEL     OTELConfig
}

// AppConfig holds process-wide settings
type AppConfig struct {
	Name     string
	Env      string
	LogLevel string
}

// APIConfig holds the tracking API connection settings
type APIConfig struct {
	BaseURL   string
	TrackPath string
	BatchPath string
	Token     string
	UserID    string
	// LoginAt is when Token was issued. Zero means "now" at startup.
	LoginAt time.Time
	Timeout time.Duration
}

// LocationConfig holds location cache and provider settings
type LocationConfig struct {
	CacheTTL           time.Duration
	MinRefreshInterval time.Duration
	ForegroundInterval time.Duration
	DefaultLatitude    float64
	DefaultLongitude   float64

	// Provider is "static" or "http"
	Provider          string
	ProviderURL       string
	PermissionGranted bool
	StaticLatitude    float64
	StaticLongitude   float64
	StaticAccuracy    float64
	RetryAttempts     int
}

// TrackingConfig holds interaction pipeline settings
type TrackingConfig struct {
	BatchSize        int
	FlushInterval    time.Duration
	MaxPending       int
	LoginCooldown    time.Duration
	StartupGrace     time.Duration
	HighPriority     []string
	Source           string
	Platform         string
	DropClientErrors bool
}

// StoreConfig selects the persistent key-value backend
type StoreConfig struct {
	// Driver is "memory", "redis" or "postgres"
	Driver    string
	Namespace string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables. Variables from the file named by
// ENV_FILE (default .env) are applied first when it exists; the real environment wins.
func Load() (*Config, error) {
	if err := loadEnvFile(getEnv("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	loginAt, err := getEnvAsTime("API_LOGIN_AT")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:     getEnv("APP_NAME", "telemetry-agent"),
			Env:      getEnv("APP_ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		API: APIConfig{
			BaseURL:   strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8000"), "/"),
			TrackPath: getEnv("API_TRACK_PATH", "/api/interactions/track/"),
			BatchPath: getEnv("API_BATCH_PATH", "/api/interactions/batch-track/"),
			Token:     getEnv("API_TOKEN", ""),
			UserID:    getEnv("API_USER_ID", ""),
			LoginAt:   loginAt,
			Timeout:   getEnvAsDuration("API_TIMEOUT", 10*time.Second),
		},
		Location: LocationConfig{
			CacheTTL:           getEnvAsDuration("LOCATION_CACHE_TTL", 10*time.Minute),
			MinRefreshInterval: getEnvAsDuration("LOCATION_MIN_REFRESH", time.Minute),
			ForegroundInterval: getEnvAsDuration("LOCATION_FOREGROUND_INTERVAL", 10*time.Minute),
			DefaultLatitude:    getEnvAsFloat("LOCATION_DEFAULT_LAT", 41.2995),
			DefaultLongitude:   getEnvAsFloat("LOCATION_DEFAULT_LON", 69.2401),
			Provider:           getEnv("LOCATION_PROVIDER", "static"),
			ProviderURL:        strings.TrimRight(getEnv("LOCATION_PROVIDER_URL", "http://localhost:8765"), "/"),
			PermissionGranted:  getEnvAsBool("LOCATION_PERMISSION_GRANTED", true),
			StaticLatitude:     getEnvAsFloat("LOCATION_STATIC_LAT", 41.2995),
			StaticLongitude:    getEnvAsFloat("LOCATION_STATIC_LON", 69.2401),
			StaticAccuracy:     getEnvAsFloat("LOCATION_STATIC_ACCURACY", 50),
			RetryAttempts:      getEnvAsInt("LOCATION_RETRY_ATTEMPTS", 3),
		},
		Tracking: TrackingConfig{
			BatchSize:        getEnvAsInt("TRACKING_BATCH_SIZE", 10),
			FlushInterval:    getEnvAsDuration("TRACKING_FLUSH_INTERVAL", 3*time.Minute),
			MaxPending:       getEnvAsInt("TRACKING_MAX_PENDING", 100),
			LoginCooldown:    getEnvAsDuration("TRACKING_LOGIN_COOLDOWN", 2*time.Minute),
			StartupGrace:     getEnvAsDuration("TRACKING_STARTUP_GRACE", 5*time.Second),
			HighPriority:     getEnvAsList("TRACKING_HIGH_PRIORITY", []string{"phone_call", "offer_use", "review", "collection_add"}),
			Source:           getEnv("TRACKING_SOURCE", "mobile"),
			Platform:         getEnv("TRACKING_PLATFORM", "agent"),
			DropClientErrors: getEnvAsBool("TRACKING_DROP_CLIENT_ERRORS", false),
		},
		Store: StoreConfig{
			Driver:    getEnv("STORE_DRIVER", "memory"),
			Namespace: getEnv("STORE_NAMESPACE", "telemetry"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "telemetry"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "telemetry-agent"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	switch {
	case c.Location.CacheTTL <= 0:
		return fmt.Errorf("LOCATION_CACHE_TTL must be positive")
	case c.Tracking.BatchSize <= 0:
		return fmt.Errorf("TRACKING_BATCH_SIZE must be positive")
	case c.Tracking.MaxPending <= 0:
		return fmt.Errorf("TRACKING_MAX_PENDING must be positive")
	case c.Tracking.FlushInterval <= 0:
		return fmt.Errorf("TRACKING_FLUSH_INTERVAL must be positive")
	}

	switch c.Store.Driver {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Location.Provider {
	case "static", "http":
	default:
		return fmt.Errorf("unsupported LOCATION_PROVIDER %q", c.Location.Provider)
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func getEnvAsTime(key string) (time.Time, error) {
	value := os.Getenv(key)
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339: %w", key, err)
	}
	return t, nil
}
