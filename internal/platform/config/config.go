// Package config builds process configuration from environment variables so
// main stays lean. Development defaults are deliberate; production overrides
// everything via env.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config aggregates all sub-configurations.
type Config struct {
	Server       Server
	Postgres     Postgres
	Redis        RedisConfig
	Kafka        Kafka
	Auth         Auth
	Verification Verification
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Postgres captures the connection settings for the durable session store.
// An empty URL means in-memory stores are used instead.
type Postgres struct {
	URL string
}

// RedisConfig captures Redis connection settings. An empty URL disables the
// Redis-backed session store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka captures the audit sink settings. Empty brokers disable the sink.
type Kafka struct {
	Brokers     []string
	TopicPrefix string
}

// Auth captures operator authentication settings.
type Auth struct {
	JWTSigningKey string
}

// Verification captures orchestrator-level tuning. An empty ForensicsURL
// leaves the document forensics channel outcome-only.
type Verification struct {
	SessionIdleTimeout time.Duration
	ReaperInterval     time.Duration
	ChannelTimeout     time.Duration
	AccessCodeTTL      time.Duration
	ForensicsURL       string
}

// FromEnv builds the full configuration from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envString("FIDES_ADDR", ":8080"),
			ShutdownTimeout: envDuration("FIDES_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Postgres: Postgres{
			URL: os.Getenv("FIDES_POSTGRES_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("FIDES_REDIS_URL"),
			PoolSize:     envInt("FIDES_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("FIDES_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("FIDES_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("FIDES_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("FIDES_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:     splitNonEmpty(os.Getenv("FIDES_KAFKA_BROKERS")),
			TopicPrefix: envString("FIDES_KAFKA_TOPIC_PREFIX", "fides.audit"),
		},
		Auth: Auth{
			// Development default; must be overridden in production.
			JWTSigningKey: envString("FIDES_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		},
		Verification: Verification{
			SessionIdleTimeout: envDuration("FIDES_SESSION_IDLE_TIMEOUT", 30*time.Minute),
			ReaperInterval:     envDuration("FIDES_REAPER_INTERVAL", 5*time.Minute),
			ChannelTimeout:     envDuration("FIDES_CHANNEL_TIMEOUT", 90*time.Second),
			AccessCodeTTL:      envDuration("FIDES_ACCESS_CODE_TTL", 24*time.Hour),
			ForensicsURL:       os.Getenv("FIDES_FORENSICS_URL"),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if part := csv[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
