package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	return path
}

func TestLoadServerDefaults(t *testing.T) {
	path := writeTemp(t, `host = ":9090"`)

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Host)
	require.Equal(t, "./data", cfg.RootPath)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadCacheRequiresUpstream(t *testing.T) {
	path := writeTemp(t, `host = ":9091"`)

	_, err := LoadCache(path)
	require.Error(t, err)
}

func TestLoadCacheOK(t *testing.T) {
	path := writeTemp(t, "host = \":9091\"\nupstream = \"http://server.local:8080\"\n")

	cfg, err := LoadCache(path)
	require.NoError(t, err)
	require.Equal(t, "http://server.local:8080", cfg.Upstream)
	require.Equal(t, "30s", cfg.Cache.PollInterval)
}
