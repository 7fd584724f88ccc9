package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openswarm/swarm-go/pkg/swarmerr"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Storage.Provider)
	assert.Equal(t, 5*time.Second, cfg.Registry.HeartbeatInterval)
	assert.Equal(t, 5, cfg.Router.FailureThreshold)
	assert.Equal(t, int64(5), cfg.Retrieval.FrequentThreshold)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("SWARM_NODE_ROLE", "memory")
	t.Setenv("SWARM_LISTEN_ADDR", ":9901")
	t.Setenv("SWARM_HEARTBEAT_INTERVAL", "2s")
	t.Setenv("SWARM_STALENESS_THRESHOLD", "6s")
	t.Setenv("SWARM_DEREGISTER_THRESHOLD", "30s")
	t.Setenv("SWARM_RETRY_BUDGET", "1")
	t.Setenv("SWARM_FREQUENT_THRESHOLD", "10")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Node.Role)
	assert.Equal(t, ":9901", cfg.Node.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.Registry.HeartbeatInterval)
	assert.Equal(t, 6*time.Second, cfg.Registry.StalenessThreshold)
	assert.Equal(t, 30*time.Second, cfg.Registry.DeregisterThreshold)
	assert.Equal(t, 1, cfg.Router.RetryBudget)
	assert.Equal(t, int64(10), cfg.Retrieval.FrequentThreshold)
}

func TestLoadFromEnvStorageProviders(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		t.Setenv("SWARM_STORAGE_PROVIDER", "sqlite")
		t.Setenv("SWARM_SQLITE_PATH", "/tmp/test.db")

		cfg, err := LoadFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "sqlite", cfg.Storage.Provider)
		assert.Equal(t, "/tmp/test.db", cfg.Storage.Config["db_path"])
	})

	t.Run("postgres", func(t *testing.T) {
		t.Setenv("SWARM_STORAGE_PROVIDER", "postgres")
		t.Setenv("SWARM_POSTGRES_HOST", "db.internal")
		t.Setenv("SWARM_POSTGRES_PORT", "5433")

		cfg, err := LoadFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "db.internal", cfg.Storage.Config["host"])
		assert.Equal(t, 5433, cfg.Storage.Config["port"])
	})

	t.Run("mysql", func(t *testing.T) {
		t.Setenv("SWARM_STORAGE_PROVIDER", "mysql")

		cfg, err := LoadFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "mysql", cfg.Storage.Provider)
		assert.Equal(t, 3306, cfg.Storage.Config["port"])
	})

	t.Run("unknown", func(t *testing.T) {
		t.Setenv("SWARM_STORAGE_PROVIDER", "etcd")

		_, err := LoadFromEnv()
		require.Error(t, err)
		assert.True(t, swarmerr.IsKind(err, swarmerr.KindInvalidInput))
	})
}

func TestLoadFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("SWARM_HEARTBEAT_INTERVAL", "soon")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindInvalidInput))
}

func TestLoadFromJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"node": {"role": "memory", "listen_addr": ":9902"},
		"storage": {"provider": "sqlite", "config": {"db_path": "./x.db"}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFromJSON(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Node.Role)
	assert.Equal(t, ":9902", cfg.Node.ListenAddr)
	assert.Equal(t, "sqlite", cfg.Storage.Provider)
	// Sections absent from the file keep their defaults.
	assert.Equal(t, 5*time.Second, cfg.Registry.HeartbeatInterval)
}

func TestLoadFromJSONMissingFile(t *testing.T) {
	_, err := LoadFromJSON(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindNotFound))
}

func TestValidateOrdering(t *testing.T) {
	cfg := Default()
	cfg.Registry.DeregisterThreshold = cfg.Registry.StalenessThreshold

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindInvalidInput))
}

func TestValidateUnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.Storage.Provider = "redis"

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, swarmerr.IsKind(err, swarmerr.KindInvalidInput))
}
