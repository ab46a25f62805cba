package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	MongoDBURL  string
	MongoDBName string
	RedisURL    string

	// JWT
	JWTSecret string

	// Encryption (vault at-rest key)
	EncryptionKey string

	// OAuth - Google
	GoogleClientID     string
	GoogleClientSecret string

	// OAuth - Microsoft
	MicrosoftClientID string
	MicrosoftTenantID string

	// Worker
	WorkerID string

	// Ingestion
	PollInterval         time.Duration
	TokenRefreshInterval time.Duration
	IdleRefreshInterval  time.Duration
	ReconnectDelay       time.Duration
	ReconnectMaxAttempts int
	FetchLimit           int
	IMAPTimeout          time.Duration

	// Consumer (Redis Stream)
	ConsumerBatchSize     int
	ConsumerBlockMS       int
	ConsumerMaxRetries    int
	ConsumerRetryDelaySec int

	// CORS
	AllowedOrigins []string

	// Scheduler
	SchedulerEnabled bool
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "mailworker"),
		RedisURL:    getEnv("REDIS_URL", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// Encryption
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),

		// OAuth - Google
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),

		// OAuth - Microsoft (device flow needs no secret)
		MicrosoftClientID: getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftTenantID: getEnv("MICROSOFT_TENANT_ID", "common"),

		// Worker
		WorkerID: getEnv("WORKER_ID", generateWorkerID()),

		// Ingestion
		PollInterval:         time.Duration(getEnvInt("POLL_INTERVAL_SEC", 300)) * time.Second,
		TokenRefreshInterval: time.Duration(getEnvInt("TOKEN_REFRESH_INTERVAL_SEC", 1800)) * time.Second,
		IdleRefreshInterval:  time.Duration(getEnvInt("IDLE_REFRESH_INTERVAL_SEC", 1500)) * time.Second,
		ReconnectDelay:       time.Duration(getEnvInt("RECONNECT_DELAY_SEC", 5)) * time.Second,
		ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 5),
		FetchLimit:           getEnvInt("FETCH_LIMIT", 50),
		IMAPTimeout:          time.Duration(getEnvInt("IMAP_TIMEOUT_SEC", 30)) * time.Second,

		// Consumer
		ConsumerBatchSize:     getEnvInt("CONSUMER_BATCH_SIZE", 50),
		ConsumerBlockMS:       getEnvInt("CONSUMER_BLOCK_MS", 5000),
		ConsumerMaxRetries:    getEnvInt("CONSUMER_MAX_RETRIES", 3),
		ConsumerRetryDelaySec: getEnvInt("CONSUMER_RETRY_DELAY_SEC", 5),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		// Scheduler
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
