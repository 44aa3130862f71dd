package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gojostore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	mem, err := cfg.Store.MemoryBytes()
	require.NoError(t, err)
	require.Equal(t, int64(64<<20), mem)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
store:
  path: /var/lib/gojostore/main
  memory: 128MB
server:
  addr: ":7000"
logger:
  level: debug
telemetry:
  enabled: true
  prometheus_port: 9100
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/gojostore/main", cfg.Store.Path)
	require.Equal(t, ":7000", cfg.Server.Addr)
	require.Equal(t, 100, cfg.Server.Burst, "unset fields keep their default")
	require.Equal(t, "debug", cfg.Logger.Level)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, 9100, cfg.Telemetry.PrometheusPort)

	mem, err := cfg.Store.MemoryBytes()
	require.NoError(t, err)
	require.Equal(t, int64(128<<20), mem)
}

func TestLoad_RejectsBadMemory(t *testing.T) {
	path := writeConfig(t, "store:\n  memory: lots\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
