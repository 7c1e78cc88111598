package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"irepair-admin/common/config"

	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
)

// Change feed modes
const (
	FeedLocal = "local"
	FeedRedis = "redis"
	FeedMQTT  = "mqtt"
)

// Config is the admin service configuration
type Config struct {
	HTTP struct {
		Addr string
	}

	Store struct {
		// Backend is memory, postgres or firestore
		Backend string
		// SeedFile preloads the memory backend from JSON
		SeedFile string
		// PollInterval refetches postgres subscriptions for writers outside this service; 0 disables
		PollInterval time.Duration
	}

	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	ChangeFeed struct {
		// Mode is local, redis or mqtt
		Mode   string
		Stream string
	}

	Firestore struct {
		BaseURL      string
		ProjectID    string
		APIKey       string
		PollInterval time.Duration
	}

	Resolver struct {
		Concurrency int
	}

	Session struct {
		IdleTTL time.Duration
	}

	Admin struct {
		DefaultActor string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the environment, after loading .env when present
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Store.Backend = getEnv("STORE_BACKEND", BackendMemory)
	cfg.Store.SeedFile = getEnv("STORE_SEED_FILE", "")
	cfg.Store.PollInterval = getDuration("STORE_POLL_INTERVAL", 0)

	cfg.Database = config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "irepair",
		SSLMode:  "disable",
		MaxConns: 20,
		MaxIdle:  5,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "irepair-admin",
		Topic:    "irepair/docstore/changes",
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.ChangeFeed.Mode = getEnv("CHANGEFEED_MODE", FeedLocal)
	cfg.ChangeFeed.Stream = getEnv("CHANGEFEED_STREAM", "docstore:changes")

	cfg.Firestore.BaseURL = getEnv("FIRESTORE_BASE_URL", "https://firestore.googleapis.com/v1")
	cfg.Firestore.ProjectID = getEnv("FIRESTORE_PROJECT_ID", "")
	cfg.Firestore.APIKey = getEnv("FIRESTORE_API_KEY", "")
	cfg.Firestore.PollInterval = getDuration("FIRESTORE_POLL_INTERVAL", 2*time.Second)

	cfg.Resolver.Concurrency = getInt("RESOLVER_CONCURRENCY", 8)
	cfg.Session.IdleTTL = getDuration("SESSION_IDLE_TTL", 30*time.Minute)
	cfg.Admin.DefaultActor = getEnv("ADMIN_DEFAULT_ACTOR", "admin")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown modes and settings that cannot work together
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendPostgres:
	case BackendFirestore:
		if c.Firestore.ProjectID == "" {
			return errors.New("FIRESTORE_PROJECT_ID is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unsupported STORE_BACKEND: %s", c.Store.Backend)
	}

	switch c.ChangeFeed.Mode {
	case FeedLocal, FeedRedis, FeedMQTT:
	default:
		return fmt.Errorf("unsupported CHANGEFEED_MODE: %s", c.ChangeFeed.Mode)
	}

	if c.Resolver.Concurrency <= 0 {
		return fmt.Errorf("RESOLVER_CONCURRENCY must be positive, got %d", c.Resolver.Concurrency)
	}
	if c.Session.IdleTTL < 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must not be negative, got %s", c.Session.IdleTTL)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// getDuration accepts Go durations ("90s") or plain seconds ("90")
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
