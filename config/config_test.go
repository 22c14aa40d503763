package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dabubble/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 500, cfg.Fanout.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Presence.TTL)
	assert.Equal(t, []string{"/main"}, cfg.Presence.Prefixes)
	assert.Equal(t, "general", cfg.Channels.DefaultID)
	assert.Equal(t, 720*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "dabubble-outbox", cfg.RMQ.Queue)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}

func TestLoadMergesFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "dabubble.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
store:
  driver: mongo
  mongo:
    database: team
fanout:
  batchSize: 100
`), 0o600))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, DriverMongo, cfg.Store.Driver)
	assert.Equal(t, "team", cfg.Store.Mongo.Database)
	assert.Equal(t, 10*time.Second, cfg.Store.Mongo.Timeout)
	assert.Equal(t, 100, cfg.Fanout.BatchSize)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DABUBBLE_STORE_DRIVER", "firestore")
	t.Setenv("DABUBBLE_SESSION_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverFirestore, cfg.Store.Driver)
	assert.Equal(t, "s3cret", cfg.Session.Secret)
}

func TestValidate(t *testing.T) {
	t.Setenv("DABUBBLE_STORE_DRIVER", "postgres")
	_, err := Load("")
	assert.True(t, errors.Is(err, errors.ErrUnknownDriver))

	cfg := &Config{}
	cfg.Store.Driver = DriverMemory
	assert.Error(t, cfg.Validate())
	cfg.Fanout.BatchSize = 1
	assert.NoError(t, cfg.Validate())
}

func TestWriteDefault(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nested", "dabubble.yaml")
	require.NoError(t, WriteDefault(file))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, defaultConfig, data)

	require.NoError(t, os.WriteFile(file, []byte("fanout:\n  batchSize: 7\n"), 0o600))
	require.NoError(t, WriteDefault(file))
	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Fanout.BatchSize)
}
