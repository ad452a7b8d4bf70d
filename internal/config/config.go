// Package config loads application configuration from environment variables.
package config

import (
	"log"
	"os"
	"strings"
	"time"
)

// Config holds the process-level settings. Values come from the environment
// (optionally seeded from .env by the caller).
type Config struct {
	Env        string // APP_ENV: dev, test, prod
	Port       string // APP_PORT
	Store      string // APP_STORE: mysql or memory
	DBUser     string
	DBPass     string
	DBHost     string
	DBPort     string
	DBName     string
	JWTSecret  string // signs scanner and organizer device tokens
	BcryptCost int    // cost for supervisor override code hashes
	AMQPURL    string // empty disables the RabbitMQ consumers and publisher
	Engine     EngineConfig
}

// EngineConfig tunes the check-in engine.
type EngineConfig struct {
	PatternWindow    int           // ANALYTICS_PATTERN_WINDOW
	MaxClockSkew     time.Duration // SCAN_MAX_CLOCK_SKEW
	CASRetries       int           // SCAN_CAS_RETRIES
	ActivityLimit    int           // ACTIVITY_DEFAULT_LIMIT
	WindowRetention  time.Duration // WINDOW_RETENTION
	DashboardRefresh time.Duration // DASHBOARD_REFRESH
	OccupancyBackend string        // OCCUPANCY_BACKEND: memory or redis
}

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Load reads the configuration. Database settings are only required when
// APP_STORE is mysql; a missing required variable exits the process.
func Load() Config {
	cfg := Config{
		Env:        envStr("APP_ENV", "dev"),
		Port:       envStr("APP_PORT", "8080"),
		Store:      strings.ToLower(envStr("APP_STORE", StoreMySQL)),
		JWTSecret:  must("JWT_SECRET"),
		BcryptCost: envInt("BCRYPT_COST", 10),
		AMQPURL:    amqpURL(),
		Engine:     LoadEngineConfig(),
	}
	switch cfg.Store {
	case StoreMySQL:
		cfg.DBUser = must("DB_USER")
		cfg.DBPass = os.Getenv("DB_PASS")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	case StoreMemory:
	default:
		log.Fatalf("invalid APP_STORE: %q", cfg.Store)
	}
	return cfg
}

func LoadEngineConfig() EngineConfig {
	ec := EngineConfig{
		PatternWindow:    envInt("ANALYTICS_PATTERN_WINDOW", 5),
		MaxClockSkew:     envDur("SCAN_MAX_CLOCK_SKEW", 2*time.Minute),
		CASRetries:       envInt("SCAN_CAS_RETRIES", 3),
		ActivityLimit:    envInt("ACTIVITY_DEFAULT_LIMIT", 20),
		WindowRetention:  envDur("WINDOW_RETENTION", 24*time.Hour),
		DashboardRefresh: envDur("DASHBOARD_REFRESH", 5*time.Second),
		OccupancyBackend: strings.ToLower(envStr("OCCUPANCY_BACKEND", BackendMemory)),
	}
	if ec.PatternWindow < 1 {
		ec.PatternWindow = 5
	}
	if ec.CASRetries < 1 {
		ec.CASRetries = 1
	}
	if ec.ActivityLimit < 1 {
		ec.ActivityLimit = 20
	}
	if ec.OccupancyBackend != BackendRedis {
		ec.OccupancyBackend = BackendMemory
	}
	return ec
}

func amqpURL() string {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		return v
	}
	return os.Getenv("AMQP_URL")
}

// must retrieves a required environment variable or exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

