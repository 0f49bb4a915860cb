package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnvFile(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
}

func TestLoadDefaults(t *testing.T) {
	noEnvFile(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "default", cfg.DefaultMode)
	assert.Equal(t, "on_close", cfg.WriteMode)
	assert.Equal(t, 500*time.Millisecond, cfg.CacheReadTimeout)
	assert.True(t, cfg.WMSInsecureSkipVerify)
	assert.Equal(t, 3, cfg.DBConnectRetries)
	assert.Equal(t, "http://localhost/mapserv", cfg.WMSBackendURL())
	assert.True(t, cfg.UsesDatabase())
	assert.False(t, cfg.IsReloadEnabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	noEnvFile(t)
	t.Setenv("WMS_HOST", "wms.internal")
	t.Setenv("WMS_PORT", "8000")
	t.Setenv("S3_WRITE_MODE", "async")
	t.Setenv("MEMCACHE_SERVERS", "a:11211,b:11211")
	t.Setenv("RESTRICTIONS_FILE", "/etc/wmts/layers.yaml")
	t.Setenv("RELOAD_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://wms.internal:8000/mapserv", cfg.WMSBackendURL())
	assert.Equal(t, "async", cfg.WriteMode)
	assert.Equal(t, []string{"a:11211", "b:11211"}, cfg.MemcacheServers)
	assert.False(t, cfg.UsesDatabase())
	assert.True(t, cfg.IsReloadEnabled())
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("APP_VERSION=1.2.3\n"), 0644))
	t.Setenv("ENV_FILE", path)
	t.Cleanup(func() { os.Unsetenv("APP_VERSION") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", cfg.AppVersion)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"write mode", "S3_WRITE_MODE", "later"},
		{"backend", "CACHE_BACKEND", "gcs"},
		{"mode", "DEFAULT_MODE", "debug"},
		{"workers", "ASYNC_WRITE_WORKERS", "0"},
		{"duration", "CACHE_READ_TIMEOUT", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			noEnvFile(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestCachingRequiresBucket(t *testing.T) {
	noEnvFile(t)
	t.Setenv("ENABLE_S3_CACHING", "true")

	_, err := Load()
	assert.ErrorContains(t, err, "AWS_S3_BUCKET_NAME")

	t.Setenv("AWS_S3_BUCKET_NAME", "tiles")
	_, err = Load()
	assert.NoError(t, err)
}
