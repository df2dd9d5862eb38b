package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv("CHAT_MEMORY_MIGRATE_AT_START", "false")
	t.Setenv("CHAT_MEMORY_REDIS_SCAN_COUNT", "250")
	t.Setenv("CHAT_MEMORY_QDRANT_STARTUP_TIMEOUT", "PT2M")
	t.Setenv("CHAT_MEMORY_MIGRATION_RETRY_INTERVAL", "45s")
	t.Setenv("CHAT_MEMORY_MIGRATION_SENTINEL_INDEX", "custom-index")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	require.False(t, cfg.MigrateAtStart)
	require.Equal(t, int64(250), cfg.RedisScanCount)
	require.Equal(t, 2*time.Minute, cfg.QdrantStartupTimeout)
	require.Equal(t, 45*time.Second, cfg.MigrationRetryInterval)
	require.Equal(t, "custom-index", cfg.SentinelIndex)
	require.Equal(t, DefaultSentinelKey, cfg.SentinelKey)
}

func TestApplyEnv_RejectsInvalidValues(t *testing.T) {
	t.Setenv("CHAT_MEMORY_QDRANT_PAGE_SIZE", "lots")

	cfg := DefaultConfig()
	err := cfg.ApplyEnv()
	require.Error(t, err)
	require.Contains(t, err.Error(), "CHAT_MEMORY_QDRANT_PAGE_SIZE")
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("PT1H30M")
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, d)

	d, err = ParseDuration("1500ms")
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, d)

	_, err = ParseDuration("P1D")
	require.Error(t, err)
}

func TestQdrantAddress_Defaults(t *testing.T) {
	var cfg Config
	require.Equal(t, "localhost:6334", cfg.QdrantAddress())
}

func TestQdrantAddress_UsesPortFromHostWhenProvided(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QdrantHost = "localhost:7443"
	cfg.QdrantPort = 6334

	require.Equal(t, "localhost:7443", cfg.QdrantAddress())
}

func TestQdrantAddress_UsesHostPortFromURLWhenProvided(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QdrantHost = "http://qdrant.internal:9443"

	require.Equal(t, "qdrant.internal:9443", cfg.QdrantAddress())
}
