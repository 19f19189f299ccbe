package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/agencyhub")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, 15*time.Minute, cfg.Workers.SweepInterval)
		assert.Equal(t, 5*time.Second, cfg.Database.TxTimeout)
		assert.Empty(t, cfg.Kafka.Brokers)
		assert.Equal(t, slog.LevelInfo, cfg.Server.Level())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/agencyhub")
		t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
		t.Setenv("SWEEP_INTERVAL", "1m")
		t.Setenv("LOG_LEVEL", "debug")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, time.Minute, cfg.Workers.SweepInterval)
		assert.Equal(t, slog.LevelDebug, cfg.Server.Level())
	})

	t.Run("database url is required", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")

		_, err := FromEnv()
		assert.ErrorContains(t, err, "DATABASE_URL")
	})

	t.Run("malformed duration", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/agencyhub")
		t.Setenv("TX_TIMEOUT", "soon")

		_, err := FromEnv()
		assert.Error(t, err)
	})
}
