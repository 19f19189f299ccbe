package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string        `env:"AGENCYHUB_ADDR" envDefault:":8080"`
	JWTSigningKey string        `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"agencyhub"`
	JWTAudience   string        `env:"JWT_AUDIENCE" envDefault:"agencyhub-api"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`
}

// DatabaseConfig configures the ledger connection pool.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	TxTimeout       time.Duration `env:"TX_TIMEOUT" envDefault:"5s"`
}

// RedisConfig configures the cache and trust-score client. An empty URL disables Redis.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	PricingTTL   time.Duration `env:"PRICING_CACHE_TTL" envDefault:"5m"`
}

// KafkaConfig configures the notification sink. No brokers means notifications
// are only logged.
type KafkaConfig struct {
	Brokers            []string `env:"KAFKA_BROKERS" envSeparator:","`
	NotificationsTopic string   `env:"NOTIFICATIONS_TOPIC" envDefault:"agencyhub.notifications"`
	Partitions         int32    `env:"KAFKA_TOPIC_PARTITIONS" envDefault:"3"`
	ReplicationFactor  int16    `env:"KAFKA_REPLICATION_FACTOR" envDefault:"1"`
}

// WorkerConfig configures background work: the notification dispatcher and the sweeper.
type WorkerConfig struct {
	NotifyWorkers int           `env:"NOTIFY_WORKERS" envDefault:"4"`
	NotifyBuffer  int           `env:"NOTIFY_BUFFER" envDefault:"1024"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"15m"`
	SweepBatch    int           `env:"SWEEP_BATCH" envDefault:"500"`
}

// Config is the whole process configuration.
type Config struct {
	Server   Server
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Workers  WorkerConfig
}

// FromEnv parses Config from environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Workers.NotifyWorkers < 1 {
		return fmt.Errorf("NOTIFY_WORKERS must be positive")
	}
	if c.Workers.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	return nil
}

// Level maps LOG_LEVEL onto a slog level, defaulting to info.
func (s Server) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
