package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, defaultListen, cfg.Listen)
	require.Equal(t, KVBackendFile, cfg.KVConfig.Backend)
	require.Equal(t, 3, cfg.DownloadConfig.Concurrency)
	require.Equal(t, 2*1024*1024, cfg.CacheConfig.MaxValueSize)
	require.Equal(t, "mp3", cfg.FSConfig.FileExt)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
log_level: debug
kv:
  backend: redis
  redis_url: redis://localhost:6379/0
storage:
  download_dir: /var/lib/offline
  file_ext: m4a
download:
  concurrency: 5
  http_timeout: 30s
cache:
  ttl:
    FEED: 2m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, LogLevelDebug, cfg.LogLevel)
	require.Equal(t, KVBackendRedis, cfg.KVConfig.Backend)
	require.Equal(t, defaultNamespace, cfg.KVConfig.Namespace)
	require.Equal(t, "/var/lib/offline", cfg.FSConfig.DownloadDir)
	require.Equal(t, "m4a", cfg.FSConfig.FileExt)
	require.Equal(t, 5, cfg.DownloadConfig.Concurrency)
	require.Equal(t, 30*time.Second, cfg.DownloadConfig.HTTPTimeout)
	require.Equal(t, 2*time.Minute, cfg.CacheConfig.TTL["FEED"])
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvPrefix+"CONCURRENCY", "7")
	t.Setenv(EnvPrefix+"LOG_LEVEL", LogLevelWarn)
	t.Setenv(EnvPrefix+"DOWNLOAD_DIR", "/tmp/media")

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 7, cfg.DownloadConfig.Concurrency)
	require.Equal(t, LogLevelWarn, cfg.LogLevel)
	require.Equal(t, "/tmp/media", cfg.FSConfig.DownloadDir)
}

func TestLoadInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{name: "bad log level", content: "log_level: loud\n"},
		{name: "redis without url", content: "kv:\n  backend: redis\n"},
		{name: "unknown backend", content: "kv:\n  backend: etcd\n"},
		{name: "zero concurrency", content: "download:\n  concurrency: 0\n"},
		{name: "broken yaml", content: "listen: [\n"},
		{name: "content type with separator", content: "cache:\n  ttl:\n    feed_hd: 1m\n"},
		{name: "bad env int", env: map[string]string{EnvPrefix + "CONCURRENCY": "three"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			path := ""
			if tc.content != "" {
				path = writeConfig(t, tc.content)
			}

			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestMustLoadPanics(t *testing.T) {
	require.Panics(t, func() {
		MustLoad(filepath.Join(t.TempDir(), "missing.yml"))
	})
}
