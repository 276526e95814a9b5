package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Widget    WidgetConfig
	Database  DatabaseConfig
	FCM       FCMConfig
	LogLevel  string
	LogFormat string
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port          int
	ReadTimeout   int
	WriteTimeout  int
	WebhookSecret string
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Enabled       bool
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string
	ConsumerName  string
}

// WidgetConfig holds widget pipeline configuration
type WidgetConfig struct {
	PrefsBackend   string // file, redis or memory
	PrefsPath      string
	ProvidersFile  string // empty means built-in providers
	Workers        int
	FrameCacheSize int
}

// DatabaseConfig holds the relational store used by the webhooks
type DatabaseConfig struct {
	Type string // postgres or sqlite
	URL  string
}

// FCMConfig holds push messaging configuration
type FCMConfig struct {
	ServiceAccountJSON string
	ServiceAccountFile string
	Endpoint           string // overrides the messages:send URL
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (optional)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:          getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:   getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout:  getEnvAsInt("SERVER_WRITE_TIMEOUT", 10),
			WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
		},
		Redis: RedisConfig{
			Enabled:       getEnvAsBool("REDIS_ENABLED", false),
			Addr:          getRedisAddr(),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvAsInt("REDIS_DB", 0),
			ConsumerGroup: getEnv("REDIS_CONSUMER_GROUP", "krab-relay"),
			ConsumerName:  getEnv("REDIS_CONSUMER_NAME", ""),
		},
		Widget: WidgetConfig{
			PrefsBackend:   getEnv("PREFS_BACKEND", "file"),
			PrefsPath:      getEnv("PREFS_PATH", "data/widget_prefs.json"),
			ProvidersFile:  getEnv("PROVIDERS_FILE", ""),
			Workers:        getEnvAsInt("WIDGET_WORKERS", 4),
			FrameCacheSize: getEnvAsInt("FRAME_CACHE_SIZE", 64),
		},
		Database: DatabaseConfig{
			Type: getEnv("DATABASE_TYPE", "postgres"),
			URL:  getEnv("DATABASE_URL", ""),
		},
		FCM: FCMConfig{
			ServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT", ""),
			ServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
			Endpoint:           getEnv("FCM_ENDPOINT", ""),
		},
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", ""),
	}

	return cfg, nil
}

// ServiceAccount returns the raw service-account JSON, reading the file
// variant when the inline one is unset
func (c FCMConfig) ServiceAccount() ([]byte, error) {
	if c.ServiceAccountJSON != "" {
		return []byte(c.ServiceAccountJSON), nil
	}
	if c.ServiceAccountFile == "" {
		return nil, nil
	}
	return os.ReadFile(c.ServiceAccountFile)
}

// getRedisAddr resolves the Redis address from REDIS_URL, then REDIS_ADDR
func getRedisAddr() string {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return strings.TrimPrefix(url, "redis://")
	}
	return getEnv("REDIS_ADDR", "localhost:6379")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
