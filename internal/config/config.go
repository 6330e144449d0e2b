// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// MySQL settings
	MySQLDSN string

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	NATSEnabled  bool

	// RabbitMQ event intake
	AMQPURL     string
	AMQPQueue   string
	AMQPEnabled bool

	// WhatsApp Cloud API settings
	WAAccessToken   string
	WAPhoneNumberID string
	WAVerifyToken   string
	WAAppSecret     string
	WAAPIVersion    string
	ProviderTimeout time.Duration

	// Idempotency ledger
	LedgerTTL          time.Duration
	LedgerRetention    time.Duration
	LedgerTrimInterval time.Duration

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	SuggestEnabled  bool

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),

		// MySQL
		MySQLDSN: getEnv("MYSQL_DSN", ""),

		// Redis
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		NATSEnabled:  getBoolEnv("NATS_ENABLED", true),

		// RabbitMQ
		AMQPURL:     getEnv("AMQP_URL", ""),
		AMQPQueue:   getEnv("AMQP_QUEUE", "booking-events"),
		AMQPEnabled: getBoolEnv("AMQP_ENABLED", false),

		// WhatsApp Cloud API
		WAAccessToken:   getEnv("WA_ACCESS_TOKEN", ""),
		WAPhoneNumberID: getEnv("WA_PHONE_NUMBER_ID", ""),
		WAVerifyToken:   getEnv("WA_VERIFY_TOKEN", ""),
		WAAppSecret:     getEnv("WA_APP_SECRET", ""),
		WAAPIVersion:    getEnv("WA_API_VERSION", "v19.0"),
		ProviderTimeout: getDurationEnv("PROVIDER_TIMEOUT", 10*time.Second),

		// Ledger
		LedgerTTL:          getDurationEnv("LEDGER_TTL", 24*time.Hour),
		LedgerRetention:    getDurationEnv("LEDGER_RETENTION", 90*24*time.Hour),
		LedgerTrimInterval: getDurationEnv("LEDGER_TRIM_INTERVAL", time.Hour),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", "anthropic"),
		SuggestEnabled:  getBoolEnv("SUGGEST_ENABLED", false),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
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
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
