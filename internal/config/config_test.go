package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Driver.Dialect)
	require.Equal(t, 128, cfg.Driver.StmtCacheSize)
	require.Equal(t, int64(4096), cfg.PayloadThreshold)
	require.Equal(t, 10*60, int(cfg.CacheCleaner.SweepGrace.Seconds()))
}

func TestLoadDerivesDSNFromDataDir(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Empty(t, cfg.Driver.DSN)

	path := filepath.Join(t.TempDir(), "akonadi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /var/lib/akonadi\n"), 0o600))

	cfg, err = Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/akonadi/akonadi.db", cfg.Driver.DSN)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("AKONADI_PORT", "2434")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 2434, cfg.Port)
}

func TestLoadRejectsUnreadableConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}
