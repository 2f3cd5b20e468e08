// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Integrity IntegrityConfig
	Scheduler SchedulerConfig
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr        string `env:"COVENANT_ADDR" envDefault:":8080"`
	Environment string `env:"COVENANT_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	// AdminToken guards the ops admin endpoints. Empty disables them.
	AdminToken string `env:"ADMIN_TOKEN"`
}

// DatabaseConfig selects Postgres. An empty URL runs everything in memory.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	Driver          string        `env:"DB_DRIVER" envDefault:"pgx"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	TxTimeout       time.Duration `env:"DB_TX_TIMEOUT" envDefault:"5s"`
}

type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

type KafkaConfig struct {
	Brokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	AlertTopic string   `env:"KAFKA_ALERT_TOPIC" envDefault:"covenant.integrity.alerts"`
}

type IntegrityConfig struct {
	// HMACKeys is "id:hexkey,id:hexkey".
	HMACKeys          string `env:"INTEGRITY_HMAC_KEYS"`
	ActiveKeyID       string `env:"INTEGRITY_ACTIVE_KEY_ID"`
	VerifyConcurrency int    `env:"INTEGRITY_VERIFY_CONCURRENCY" envDefault:"8"`
}

type SchedulerConfig struct {
	DisputeSweepInterval       time.Duration `env:"DISPUTE_SWEEP_INTERVAL" envDefault:"1h"`
	IntegrityVerifyInterval    time.Duration `env:"INTEGRITY_VERIFY_INTERVAL" envDefault:"24h"`
	IdempotencyCleanupInterval time.Duration `env:"IDEMPOTENCY_CLEANUP_INTERVAL" envDefault:"1h"`
	LeaderLockTTL              time.Duration `env:"LEADER_LOCK_TTL" envDefault:"5m"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "pgx", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be pgx or postgres, got %q", c.Database.Driver)
	}
	if c.Integrity.VerifyConcurrency < 1 {
		return fmt.Errorf("INTEGRITY_VERIFY_CONCURRENCY must be at least 1")
	}
	if (c.Integrity.HMACKeys == "") != (c.Integrity.ActiveKeyID == "") {
		return fmt.Errorf("INTEGRITY_HMAC_KEYS and INTEGRITY_ACTIVE_KEY_ID must be set together")
	}
	for name, d := range map[string]time.Duration{
		"DISPUTE_SWEEP_INTERVAL":       c.Scheduler.DisputeSweepInterval,
		"INTEGRITY_VERIFY_INTERVAL":    c.Scheduler.IntegrityVerifyInterval,
		"IDEMPOTENCY_CLEANUP_INTERVAL": c.Scheduler.IdempotencyCleanupInterval,
		"LEADER_LOCK_TTL":              c.Scheduler.LeaderLockTTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if _, err := ParseLevel(c.Server.LogLevel); err != nil {
		return err
	}
	return nil
}

// InMemory reports whether no database is configured.
func (c *Config) InMemory() bool {
	return c.Database.URL == ""
}

func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
