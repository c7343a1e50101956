// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// BrAPIConfig provides settings for the remote BrAPI phenotyping service.
type BrAPIConfig interface {
	GetBrAPIBaseURL() string
	GetBrAPIAccessToken() string
	GetBrAPIReferenceSource() string
	GetBrAPITimeout() time.Duration
	GetBrAPIRequestsPerSecond() float64
	IsBrAPIEnabled() bool
}

// ImportConfig provides settings for the experiment import pipeline.
type ImportConfig interface {
	GetImportBatchSize() int
	GetImportAsyncCommit() bool
}

// SchedulerConfig provides settings for the asynq background worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// MetricsConfig provides settings for the Prometheus endpoint.
type MetricsConfig interface {
	GetMetricsEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	DatabaseURL            string
	JWTAccessSecret        string
	CORSAllowAll           bool
	CORSOrigins            []string
	CORSAllowCreds         bool
	BrAPIBaseURL           string
	BrAPIAccessToken       string
	BrAPIReferenceSource   string
	BrAPITimeout           time.Duration
	BrAPIRequestsPerSecond float64
	ImportBatchSize        int
	ImportAsyncCommit      bool
	RedisURL               string
	RedisTLSInsecure       bool
	AsynqQueueName         string
	AsynqConcurrency       int
	MetricsEnabled         bool
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// BrAPIConfig implementation
func (c *Config) GetBrAPIBaseURL() string            { return c.BrAPIBaseURL }
func (c *Config) GetBrAPIAccessToken() string        { return c.BrAPIAccessToken }
func (c *Config) GetBrAPIReferenceSource() string    { return c.BrAPIReferenceSource }
func (c *Config) GetBrAPITimeout() time.Duration     { return c.BrAPITimeout }
func (c *Config) GetBrAPIRequestsPerSecond() float64 { return c.BrAPIRequestsPerSecond }
func (c *Config) IsBrAPIEnabled() bool               { return c.BrAPIBaseURL != "" }

// ImportConfig implementation
func (c *Config) GetImportBatchSize() int    { return c.ImportBatchSize }
func (c *Config) GetImportAsyncCommit() bool { return c.ImportAsyncCommit && c.RedisURL != "" }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// MetricsConfig implementation
func (c *Config) GetMetricsEnabled() bool { return c.MetricsEnabled }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		JWTAccessSecret:        getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:           corsAllowAll,
		CORSOrigins:            corsOrigins,
		CORSAllowCreds:         strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		BrAPIBaseURL:           strings.TrimRight(getEnv("BRAPI_BASE_URL", ""), "/"),
		BrAPIAccessToken:       getEnv("BRAPI_ACCESS_TOKEN", ""),
		BrAPIReferenceSource:   getEnv("BRAPI_REFERENCE_SOURCE", "breeding-insight.org"),
		BrAPITimeout:           mustDuration(getEnv("BRAPI_TIMEOUT", "60s")),
		BrAPIRequestsPerSecond: mustFloat(getEnv("BRAPI_REQUESTS_PER_SECOND", "20")),
		ImportBatchSize:        mustInt(getEnv("IMPORT_BATCH_SIZE", "1000")),
		ImportAsyncCommit:      strings.EqualFold(getEnv("IMPORT_ASYNC_COMMIT", "false"), "true"),
		RedisURL:               getEnv("REDIS_URL", ""),
		RedisTLSInsecure:       strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:         getEnv("ASYNQ_QUEUE", "imports"),
		AsynqConcurrency:       mustInt(getEnv("ASYNQ_CONCURRENCY", "4")),
		MetricsEnabled:         strings.EqualFold(getEnv("METRICS_ENABLED", "true"), "true"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.BrAPIBaseURL == "" && !strings.EqualFold(cfg.Env, "development") {
		return nil, fmt.Errorf("BRAPI_BASE_URL is required outside development")
	}
	if cfg.ImportBatchSize < 1 {
		return nil, fmt.Errorf("IMPORT_BATCH_SIZE must be a positive integer")
	}
	if cfg.BrAPITimeout <= 0 {
		return nil, fmt.Errorf("BRAPI_TIMEOUT must be a positive duration")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
