package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	NewRelic  NewRelicConfig
	Dispatch  DispatchConfig
	Lifecycle LifecycleConfig
	Worker    WorkerConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig holds the lifecycle event stream configuration. Empty
// brokers disable publishing.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string
	LicenseKey string
	Enabled    bool
}

// SearchPolicy controls the growing-radius driver search for one vehicle
// class.
type SearchPolicy struct {
	InitialRadiusKm float64
	IncrementKm     float64
	MaxRadiusKm     float64
	Interval        time.Duration
}

// DispatchConfig holds fan-out and presence tuning.
type DispatchConfig struct {
	DefaultSearch      SearchPolicy
	SearchByClass      map[string]SearchPolicy
	StalenessThreshold time.Duration
	SweepInterval      time.Duration
	ConflictBuffer     time.Duration
	MinGap             time.Duration
	MaxPoolSize        int
}

// PolicyFor returns the search policy for a vehicle class.
func (c DispatchConfig) PolicyFor(vehicleClass string) SearchPolicy {
	if p, ok := c.SearchByClass[vehicleClass]; ok {
		return p
	}
	return c.DefaultSearch
}

// LifecycleConfig holds checkpoint timing. Offsets are durations before
// the scheduled pickup time.
type LifecycleConfig struct {
	ImmediateTTL time.Duration
}

// WorkerConfig holds checkpoint worker tuning.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int64
	RetryDelay   time.Duration
	MetricsAddr  string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "dispatch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: getSliceEnv("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "booking-events"),
		},
		NewRelic: NewRelicConfig{
			AppName:    getEnv("NEW_RELIC_APP_NAME", "dispatch-service"),
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			Enabled:    getBoolEnv("NEW_RELIC_ENABLED", false),
		},
		Dispatch: DispatchConfig{
			DefaultSearch: SearchPolicy{
				InitialRadiusKm: getFloatEnv("SEARCH_INITIAL_RADIUS_KM", 3.0),
				IncrementKm:     getFloatEnv("SEARCH_INCREMENT_KM", 2.0),
				MaxRadiusKm:     getFloatEnv("SEARCH_MAX_RADIUS_KM", 15.0),
				Interval:        getDurationEnv("SEARCH_INTERVAL", 30*time.Second),
			},
			SearchByClass: map[string]SearchPolicy{
				"MOTORBIKE": {InitialRadiusKm: 2.0, IncrementKm: 1.0, MaxRadiusKm: 8.0, Interval: 20 * time.Second},
				"TRUCK":     {InitialRadiusKm: 5.0, IncrementKm: 3.0, MaxRadiusKm: 25.0, Interval: 45 * time.Second},
			},
			StalenessThreshold: getDurationEnv("PRESENCE_STALENESS", 5*time.Minute),
			SweepInterval:      getDurationEnv("PRESENCE_SWEEP_INTERVAL", time.Minute),
			ConflictBuffer:     getDurationEnv("CONFLICT_BUFFER", 15*time.Minute),
			MinGap:             getDurationEnv("CONFLICT_MIN_GAP", 30*time.Minute),
			MaxPoolSize:        getIntEnv("MAX_POOL_SIZE", 4),
		},
		Lifecycle: LifecycleConfig{
			ImmediateTTL: getDurationEnv("IMMEDIATE_BOOKING_TTL", 10*time.Minute),
		},
		Worker: WorkerConfig{
			PollInterval: getDurationEnv("WORKER_POLL_INTERVAL", time.Second),
			BatchSize:    int64(getIntEnv("WORKER_BATCH_SIZE", 50)),
			RetryDelay:   getDurationEnv("WORKER_RETRY_DELAY", 15*time.Second),
			MetricsAddr:  getEnv("WORKER_METRICS_ADDR", ":2112"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
