package config

import (
	"time"

	"github.com/joho/godotenv"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.public.com/userapigateway"

// Config holds the runtime configuration for an SDK instance.
// It supports environment-based initialization with sensible defaults; all
// fields can also be set directly before constructing the client.
type Config struct {
	ServiceName string // identifies this consumer in logs and metrics
	Env         string // "dev", "uat", "prod"
	LogLevel    string // "debug", "info", etc.

	BaseURL          string        // API base URL
	DefaultAccountID string        // account used when an operation gets none
	HTTPTimeout      time.Duration // per-request timeout
	RetryMax         int           // HTTP retry attempts on 5xx/network errors

	TokenValidity time.Duration // requested access-token validity

	// Subscription engine tuning.
	DispatchWorkers   int // worker pool size per manager
	DispatchQueueSize int // bounded dispatch queue per manager

	// Rate limiting of outbound API calls.
	RequestsPerSecond int
	Burst             int

	// Optional event forwarding (NATS). Empty URL disables the bridge.
	NATSURL      string
	EventSubject string // subject prefix for forwarded events

	// Optional terminal-order journal (Postgres). Empty URL disables it.
	DatabaseURL string

	// Optional AWS Secrets Manager lookup for the API secret.
	AWSRegion  string
	SecretName string
	CacheTTL   time.Duration // TTL for cached secrets
}

// Load loads configuration from environment variables and .env file if present.
func Load() *Config {
	// load .env silently (no error if missing)
	_ = godotenv.Load()

	return &Config{
		ServiceName:       GetEnv("SERVICE_NAME", "public-sdk"),
		Env:               GetEnv("ENV", "dev"),
		LogLevel:          GetEnv("LOG_LEVEL", "info"),
		BaseURL:           GetEnv("PUBLIC_API_BASE_URL", DefaultBaseURL),
		DefaultAccountID:  GetEnv("DEFAULT_ACCOUNT_NUMBER", ""),
		HTTPTimeout:       GetEnvDuration("HTTP_TIMEOUT", 30*time.Second),
		RetryMax:          GetEnvInt("HTTP_RETRY_MAX", 2),
		TokenValidity:     GetEnvDuration("TOKEN_VALIDITY", 15*time.Minute),
		DispatchWorkers:   GetEnvInt("DISPATCH_WORKERS", 4),
		DispatchQueueSize: GetEnvInt("DISPATCH_QUEUE_SIZE", 256),
		RequestsPerSecond: GetEnvInt("REQUESTS_PER_SECOND", 20),
		Burst:             GetEnvInt("REQUEST_BURST", 40),
		NATSURL:           GetEnv("NATS_URL", ""),
		EventSubject:      GetEnv("EVENT_SUBJECT", "evt.public"),
		DatabaseURL:       GetEnv("DATABASE_URL", ""),
		AWSRegion:         GetEnv("AWS_REGION", "us-east-2"),
		SecretName:        GetEnv("API_SECRET_NAME", ""),
		CacheTTL:          GetEnvDuration("CACHE_TTL", 24*time.Hour),
	}
}
