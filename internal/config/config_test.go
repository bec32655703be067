package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, BackendMemory, cfg.Store.Backend)
	require.True(t, cfg.Engine.MembershipRepair)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Backend = "carrier-pigeon"
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresBackendAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Backend = BackendRedis
	cfg.Store.RedisAddr = ""
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Store.Backend = BackendWebsocket
	require.Error(t, cfg.Validate())
	cfg.Store.GatewayURL = "ws://localhost:8080/store"
	require.NoError(t, cfg.Validate())
}

func TestLoaderReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
logging:
  level: debug
store:
  backend: redis
  redis_addr: "127.0.0.1:7777"
identity:
  id: u1
  name: Alice
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loader := NewLoader()
	loader.SetConfigFile(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, BackendRedis, cfg.Store.Backend)
	require.Equal(t, "127.0.0.1:7777", cfg.Store.RedisAddr)
	require.Equal(t, "u1", cfg.Identity.ID)
}

func TestLoaderMissingExplicitFileFails(t *testing.T) {
	loader := NewLoader()
	loader.SetConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := loader.Load()
	require.Error(t, err)
}

func TestLoaderNoFileOnSearchPathUsesDefaults(t *testing.T) {
	oldWD, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(oldWD) })
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.Equal(t, BackendMemory, cfg.Store.Backend)
}
