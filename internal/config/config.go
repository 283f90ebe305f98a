// Package config provides environment configuration for the chat client.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the client.
type Config struct {
	// Assistant service
	APIBaseURL    string
	APIToken      string
	HTTPTimeout   time.Duration
	StreamTimeout time.Duration

	// Realtime push channel
	RealtimeURL   string
	RealtimeToken string

	// Object storage for binary attachments
	ObjectStoreEndpoint  string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string
	ObjectStoreBucket    string
	ObjectStoreUseSSL    bool

	// Attachment budgets
	MaxImageDimension int
	MaxImageBytes     int
	MaxUploadBytes    int64

	// Conversation list polling
	PollInterval time.Duration

	// Local diagnostics server; empty disables it
	DiagAddr string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Assistant service
		APIBaseURL:    getEnv("API_BASE_URL", "http://localhost:8080/api/v1"),
		APIToken:      getEnv("API_TOKEN", ""),
		HTTPTimeout:   getDurationEnv("HTTP_TIMEOUT", 15*time.Second),
		StreamTimeout: getDurationEnv("STREAM_TIMEOUT", 5*time.Minute),

		// Realtime
		RealtimeURL:   getEnv("REALTIME_URL", "nats://localhost:4222"),
		RealtimeToken: getEnv("REALTIME_TOKEN", ""),

		// Object storage
		ObjectStoreEndpoint:  getEnv("OBJECT_STORE_ENDPOINT", ""),
		ObjectStoreAccessKey: getEnv("OBJECT_STORE_ACCESS_KEY", ""),
		ObjectStoreSecretKey: getEnv("OBJECT_STORE_SECRET_KEY", ""),
		ObjectStoreBucket:    getEnv("OBJECT_STORE_BUCKET", "attachments"),
		ObjectStoreUseSSL:    getBoolEnv("OBJECT_STORE_USE_SSL", true),

		// Attachment budgets
		MaxImageDimension: getIntEnv("MAX_IMAGE_DIMENSION", 1568),
		MaxImageBytes:     getIntEnv("MAX_IMAGE_BYTES", 2*1024*1024),
		MaxUploadBytes:    getInt64Env("MAX_UPLOAD_BYTES", 20*1024*1024),

		// Polling
		PollInterval: getDurationEnv("POLL_INTERVAL", 30*time.Second),

		// Diagnostics
		DiagAddr: getEnv("DIAG_ADDR", ""),

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

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
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
