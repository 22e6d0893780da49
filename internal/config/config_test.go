package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsForUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vmca.yaml")
	require.NoError(t, os.WriteFile(path, []byte("xmlrpc_port: 7000\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7000, cfg.RPCPort)
	require.Equal(t, "error", cfg.DebugLevel)
	require.Equal(t, 1, cfg.MaxSimultaneousMigrations)
	require.Equal(t, int64(600), cfg.StableTime)
	require.Equal(t, "localhost", cfg.RPCHost)
	require.False(t, cfg.EnableMigration)
	require.True(t, cfg.EnableDefragger)
}

func TestLoadNormalizesDebugLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vmca.yaml")
	require.NoError(t, os.WriteFile(path, []byte("debug_level: WARN\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.DebugLevel, "unrecognized levels fall back to debug")
}

func TestLoadTrimsDisabledHosts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vmca.yaml")
	require.NoError(t, os.WriteFile(path, []byte("disabled_hosts:\n  - \" hostA \"\n  - hostB\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"hostA", "hostB"}, cfg.DisabledHosts)
	require.True(t, cfg.DisabledHostsSet()["hostA"])
	require.True(t, cfg.DisabledHostsSet()["hostB"])
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
