/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DatabaseBackend names one of the supported database drivers.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// EventBusBackend selects the cross-instance event transport.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// Config is the process configuration, read once at startup. Every key has
// a SOUNDWAVE_-prefixed name and a short SW_ alias; the S3 keys also accept
// the conventional AWS names.
type Config struct {
	Environment   string
	HTTPBind      string
	HTTPPort      int
	BaseURL       string // Public base URL (e.g., http://192.168.1.20:8080)
	DBBackend     DatabaseBackend
	DBDSN         string
	MediaRoot     string
	JWTSigningKey string

	// Log file rotation (empty LogFile disables the file sink)
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// S3 object storage configuration (filesystem storage when bucket empty)
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN/CloudFront URL
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance coordination
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string

	// Event bus backend (memory, redis, nats)
	EventBus EventBusBackend
	NATSURL  string

	// Ingest pipeline
	FetcherBin     string // External download command; ingest is disabled when empty
	FetcherTimeout time.Duration
	IngestWorkers  int
	IngestAttempts int

	// Subscription refresh
	RefreshInterval time.Duration

	// Radio tuning
	RadioDislikedDropProbability float64

	// Play history retention
	HistoryRetentionDays int

	// Outbound webhook on library changes (disabled when URL empty)
	WebhookURL    string
	WebhookSecret string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
// A .env file in the working directory is merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:   envString("development", "SOUNDWAVE_ENV", "SW_ENV"),
		HTTPBind:      envString("0.0.0.0", "SOUNDWAVE_HTTP_BIND", "SW_HTTP_BIND"),
		HTTPPort:      envInt(8080, "SOUNDWAVE_HTTP_PORT", "SW_HTTP_PORT"),
		BaseURL:       envString("", "SOUNDWAVE_BASE_URL", "SW_BASE_URL"),
		DBBackend:     DatabaseBackend(envString(string(DatabaseSQLite), "SOUNDWAVE_DB_BACKEND", "SW_DB_BACKEND")),
		DBDSN:         envString("./soundwave.db", "SOUNDWAVE_DB_DSN", "SW_DB_DSN"),
		MediaRoot:     envString("./media", "SOUNDWAVE_MEDIA_ROOT", "SW_MEDIA_ROOT"),
		JWTSigningKey: envString("", "SOUNDWAVE_JWT_SIGNING_KEY", "SW_JWT_SIGNING_KEY"),

		LogFile:       envString("", "SOUNDWAVE_LOG_FILE", "SW_LOG_FILE"),
		LogMaxSizeMB:  envInt(100, "SOUNDWAVE_LOG_MAX_SIZE_MB", "SW_LOG_MAX_SIZE_MB"),
		LogMaxBackups: envInt(3, "SOUNDWAVE_LOG_MAX_BACKUPS", "SW_LOG_MAX_BACKUPS"),
		LogMaxAgeDays: envInt(28, "SOUNDWAVE_LOG_MAX_AGE_DAYS", "SW_LOG_MAX_AGE_DAYS"),

		S3AccessKeyID:     envString("", "SOUNDWAVE_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"),
		S3SecretAccessKey: envString("", "SOUNDWAVE_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"),
		S3Region:          envString("us-east-1", "SOUNDWAVE_S3_REGION", "AWS_REGION"),
		S3Bucket:          envString("", "SOUNDWAVE_S3_BUCKET", "S3_BUCKET"),
		S3Endpoint:        envString("", "SOUNDWAVE_S3_ENDPOINT", "S3_ENDPOINT"),
		S3PublicBaseURL:   envString("", "SOUNDWAVE_S3_PUBLIC_BASE_URL", "S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:    envBool(false, "SOUNDWAVE_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"),

		TracingEnabled:    envBool(false, "SOUNDWAVE_TRACING_ENABLED", "SW_TRACING_ENABLED"),
		OTLPEndpoint:      envString("localhost:4317", "SOUNDWAVE_OTLP_ENDPOINT", "SW_OTLP_ENDPOINT"),
		TracingSampleRate: envFloat(1.0, "SOUNDWAVE_TRACING_SAMPLE_RATE", "SW_TRACING_SAMPLE_RATE"),

		LeaderElectionEnabled: envBool(false, "SOUNDWAVE_LEADER_ELECTION_ENABLED", "SW_LEADER_ELECTION_ENABLED"),
		RedisAddr:             envString("localhost:6379", "SOUNDWAVE_REDIS_ADDR", "SW_REDIS_ADDR"),
		RedisPassword:         envString("", "SOUNDWAVE_REDIS_PASSWORD", "SW_REDIS_PASSWORD"),
		RedisDB:               envInt(0, "SOUNDWAVE_REDIS_DB", "SW_REDIS_DB"),
		InstanceID:            envString("", "SOUNDWAVE_INSTANCE_ID", "SW_INSTANCE_ID"),

		EventBus: EventBusBackend(envString(string(EventBusMemory), "SOUNDWAVE_EVENT_BUS", "SW_EVENT_BUS")),
		NATSURL:  envString("nats://localhost:4222", "SOUNDWAVE_NATS_URL", "SW_NATS_URL"),

		FetcherBin:     envString("", "SOUNDWAVE_FETCHER_BIN", "SW_FETCHER_BIN"),
		FetcherTimeout: time.Duration(envInt(600, "SOUNDWAVE_FETCHER_TIMEOUT_SECONDS", "SW_FETCHER_TIMEOUT_SECONDS")) * time.Second,
		IngestWorkers:  envInt(2, "SOUNDWAVE_INGEST_WORKERS", "SW_INGEST_WORKERS"),
		IngestAttempts: envInt(3, "SOUNDWAVE_INGEST_MAX_ATTEMPTS", "SW_INGEST_MAX_ATTEMPTS"),

		RefreshInterval: time.Duration(envInt(60, "SOUNDWAVE_REFRESH_INTERVAL_MINUTES", "SW_REFRESH_INTERVAL_MINUTES")) * time.Minute,

		RadioDislikedDropProbability: envFloat(0.8, "SOUNDWAVE_RADIO_DISLIKED_DROP", "SW_RADIO_DISLIKED_DROP"),

		HistoryRetentionDays: envInt(365, "SOUNDWAVE_HISTORY_RETENTION_DAYS", "SW_HISTORY_RETENTION_DAYS"),

		WebhookURL:    envString("", "SOUNDWAVE_WEBHOOK_URL", "SW_WEBHOOK_URL"),
		WebhookSecret: envString("", "SOUNDWAVE_WEBHOOK_SECRET", "SW_WEBHOOK_SECRET"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.IngestWorkers < 1 {
		cfg.IngestWorkers = 1
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBBackend {
	case DatabasePostgres, DatabaseMySQL, DatabaseSQLite:
	default:
		return fmt.Errorf("unsupported database backend %q", c.DBBackend)
	}

	switch c.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return fmt.Errorf("unsupported event bus backend %q", c.EventBus)
	}

	if c.DBDSN == "" {
		return fmt.Errorf("SOUNDWAVE_DB_DSN or SW_DB_DSN must be provided")
	}
	if c.JWTSigningKey == "" {
		return fmt.Errorf("SOUNDWAVE_JWT_SIGNING_KEY or SW_JWT_SIGNING_KEY must be provided")
	}
	if p := c.RadioDislikedDropProbability; p < 0 || p > 1 {
		return fmt.Errorf("SOUNDWAVE_RADIO_DISLIKED_DROP must be between 0 and 1, got %v", p)
	}

	// Production hardening: weak signing keys and unsigned webhooks are
	// configuration mistakes, not preferences.
	if strings.EqualFold(c.Environment, "production") {
		if len(c.JWTSigningKey) < 32 {
			return fmt.Errorf("SOUNDWAVE_JWT_SIGNING_KEY must be at least 32 characters in production")
		}
		if c.WebhookURL != "" && c.WebhookSecret == "" {
			return fmt.Errorf("SOUNDWAVE_WEBHOOK_SECRET must be set when SOUNDWAVE_WEBHOOK_URL is configured in production")
		}
	}

	return nil
}

// detectLegacyEnvWarnings flags pre-rename environment keys that are set
// but no longer read, so an old deployment notices instead of silently
// running on defaults.
func detectLegacyEnvWarnings() []string {
	renamed := map[string]string{
		"ENVIRONMENT":         "use SOUNDWAVE_ENV (or SW_ENV)",
		"JWT_SIGNING_KEY":     "use SOUNDWAVE_JWT_SIGNING_KEY (or SW_JWT_SIGNING_KEY)",
		"DB_DSN":              "use SOUNDWAVE_DB_DSN (or SW_DB_DSN)",
		"TRACING_ENABLED":     "use SOUNDWAVE_TRACING_ENABLED (or SW_TRACING_ENABLED)",
		"OTLP_ENDPOINT":       "use SOUNDWAVE_OTLP_ENDPOINT (or SW_OTLP_ENDPOINT)",
		"TRACING_SAMPLE_RATE": "use SOUNDWAVE_TRACING_SAMPLE_RATE (or SW_TRACING_SAMPLE_RATE)",
	}

	var warnings []string
	for old, hint := range renamed {
		if os.Getenv(old) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", old, hint))
		}
	}
	return warnings
}

// firstEnv scans keys in order and returns the first non-empty value. An
// exported-but-empty variable counts as unset.
func firstEnv(keys []string) (string, bool) {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v, true
		}
	}
	return "", false
}

// The typed accessors take the first set key; a malformed value falls back
// to the default rather than scanning further aliases.

func envString(def string, keys ...string) string {
	if v, ok := firstEnv(keys); ok {
		return v
	}
	return def
}

func envInt(def int, keys ...string) int {
	v, ok := firstEnv(keys)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(def float64, keys ...string) float64 {
	v, ok := firstEnv(keys)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envBool(def bool, keys ...string) bool {
	v, ok := firstEnv(keys)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return def
}
