package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// SnapshotConfig holds aggregate compaction settings
type SnapshotConfig struct {
	// EveryNEvents snapshots once the tail past the last snapshot reaches
	// this many events
	EveryNEvents int
	// MaxAgeHours snapshots when the last one is older than this
	MaxAgeHours int
}

// ProjectionConfig holds read-model settings
type ProjectionConfig struct {
	// ReorderWindow is how many sequences ahead of the watermark an event
	// may arrive before the projector forces a full rebuild
	ReorderWindow int
	// CacheTTLSeconds bounds staleness of cached read-model entries
	CacheTTLSeconds int
	// CacheMaxItems bounds the read-model cache size
	CacheMaxItems int
}

// BridgeConfig holds async/sync bridge settings
type BridgeConfig struct {
	// CommandQueueSize bounds the inbound command channel
	CommandQueueSize int
	// EventBufferSize bounds the outbound event buffer; overflow drops the
	// oldest buffered event
	EventBufferSize int
	// SubmitTimeoutMS is how long a synchronous caller blocks when the
	// command queue is full
	SubmitTimeoutMS int
}

// FetchConfig holds transactional retrieval settings
type FetchConfig struct {
	// MaxEvents caps a single fetch transaction
	MaxEvents int
	// TimeoutMS bounds how long a fetch may run before returning a partial
	// transaction
	TimeoutMS int
}

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string

	// Storage backend: "memory" or "dynamodb"
	EventStore string
	// Publisher backend: "log" or "eventbridge"
	Publisher string

	// AWS configuration
	AWSRegion     string
	DynamoDBTable string
	TimeIndexName string
	EventBusName  string

	// Event log tuning
	IdempotencyTTLHours int
	SubscriptionPollMS  int

	// Logging and features
	LogLevel      string
	EnableMetrics bool
	EnableCORS    bool

	Snapshots   SnapshotConfig
	Projections ProjectionConfig
	Bridge      BridgeConfig
	Fetch       FetchConfig
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		EventStore: getEnv("EVENT_STORE", "memory"),
		Publisher:  getEnv("EVENT_PUBLISHER", "log"),

		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		DynamoDBTable: getEnv("TABLE_NAME", "graphledger"),
		TimeIndexName: getEnv("TIME_INDEX_NAME", "gsi-log-time"),
		EventBusName:  getEnv("EVENT_BUS_NAME", "graphledger-events"),

		IdempotencyTTLHours: getEnvInt("IDEMPOTENCY_TTL_HOURS", 24),
		SubscriptionPollMS:  getEnvInt("SUBSCRIPTION_POLL_MS", 250),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		EnableCORS:    getEnvBool("ENABLE_CORS", true),

		Snapshots: SnapshotConfig{
			EveryNEvents: getEnvInt("SNAPSHOT_EVERY_N_EVENTS", 100),
			MaxAgeHours:  getEnvInt("SNAPSHOT_MAX_AGE_HOURS", 24),
		},
		Projections: ProjectionConfig{
			ReorderWindow:   getEnvInt("PROJECTION_REORDER_WINDOW", 32),
			CacheTTLSeconds: getEnvInt("PROJECTION_CACHE_TTL_SECONDS", 300),
			CacheMaxItems:   getEnvInt("PROJECTION_CACHE_MAX_ITEMS", 10000),
		},
		Bridge: BridgeConfig{
			CommandQueueSize: getEnvInt("BRIDGE_COMMAND_QUEUE_SIZE", 256),
			EventBufferSize:  getEnvInt("BRIDGE_EVENT_BUFFER_SIZE", 1024),
			SubmitTimeoutMS:  getEnvInt("BRIDGE_SUBMIT_TIMEOUT_MS", 1000),
		},
		Fetch: FetchConfig{
			MaxEvents: getEnvInt("FETCH_MAX_EVENTS", 1000),
			TimeoutMS: getEnvInt("FETCH_TIMEOUT_MS", 5000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if all required configuration is present and consistent
func (c *Config) Validate() error {
	switch c.EventStore {
	case "memory", "dynamodb":
	default:
		return fmt.Errorf("EVENT_STORE must be memory or dynamodb, got %q", c.EventStore)
	}
	switch c.Publisher {
	case "log", "eventbridge":
	default:
		return fmt.Errorf("EVENT_PUBLISHER must be log or eventbridge, got %q", c.Publisher)
	}

	if c.EventStore == "dynamodb" && c.DynamoDBTable == "" {
		return fmt.Errorf("TABLE_NAME is required with the dynamodb event store")
	}
	if c.Publisher == "eventbridge" && c.EventBusName == "" {
		return fmt.Errorf("EVENT_BUS_NAME is required with the eventbridge publisher")
	}
	if c.IsProduction() && c.EventStore == "memory" {
		return fmt.Errorf("the memory event store is not durable and cannot be used in production")
	}

	if c.Projections.ReorderWindow <= 0 {
		return fmt.Errorf("PROJECTION_REORDER_WINDOW must be positive")
	}
	if c.Bridge.CommandQueueSize <= 0 || c.Bridge.EventBufferSize <= 0 {
		return fmt.Errorf("bridge queue sizes must be positive")
	}
	if c.Fetch.MaxEvents <= 0 {
		return fmt.Errorf("FETCH_MAX_EVENTS must be positive")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// SnapshotMaxAge returns the snapshot age threshold as a duration
func (c *Config) SnapshotMaxAge() time.Duration {
	return time.Duration(c.Snapshots.MaxAgeHours) * time.Hour
}

// IdempotencyTTL returns the duplicate suppression window as a duration
func (c *Config) IdempotencyTTL() time.Duration {
	return time.Duration(c.IdempotencyTTLHours) * time.Hour
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
