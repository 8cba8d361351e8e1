package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "/health", cfg.HealthPath)
	assert.Equal(t, 15*time.Second, cfg.ProbeInterval.Std())
	assert.Equal(t, 50, cfg.MaxAttempts)
	assert.Equal(t, "v1", cfg.Edge.CacheVersion)
	assert.Equal(t, 24*time.Hour, cfg.Edge.WriteRetention.Std())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
apiBase: https://api.example.org
dataDir: /var/lib/fieldsync
probeInterval: 5s
maxAttempts: 3
edge:
  cacheVersion: v7
  precache:
    - /
    - /static/js/main.js
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.org", cfg.APIBase)
	assert.Equal(t, 5*time.Second, cfg.ProbeInterval.Std())
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, "v7", cfg.Edge.CacheVersion)
	assert.Equal(t, []string{"/", "/static/js/main.js"}, cfg.Edge.Precache)

	// Untouched fields keep their defaults.
	assert.Equal(t, "/health", cfg.HealthPath)
	assert.Equal(t, "/predatorrecords", cfg.Edge.WriteEndpoint)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dataDir: /tmp/x\n"), 0644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "apiBase")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}
