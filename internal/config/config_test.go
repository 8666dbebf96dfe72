package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kadali.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":7070", cfg.Server.HTTPAddr)
	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, 60, cfg.Lifecycle.DefaultIdleMinutes)
	assert.Equal(t, "@every 5m", cfg.Reaper.Schedule)
	assert.True(t, cfg.Reaper.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  http_address: ":9090"
  api_keys: ["k1", "k2"]
  request_timeout: 30s
store:
  backend: postgres
  postgres_dsn: postgres://kadali@db/kadali
kubernetes:
  spark_image: registry.local/spark:3.5.1
  ui_port: 4041
lifecycle:
  provision_timeout: 90s
  default_idle_minutes: 15
reaper:
  schedule: "*/2 * * * *"
  concurrency: 8
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://kadali@db/kadali", cfg.Store.PostgresDSN)
	assert.Equal(t, "registry.local/spark:3.5.1", cfg.Kubernetes.SparkImage)
	assert.Equal(t, int32(4041), cfg.Kubernetes.UIPort)
	assert.Equal(t, 90*time.Second, cfg.Lifecycle.ProvisionTimeout)
	assert.Equal(t, 15, cfg.Lifecycle.DefaultIdleMinutes)
	assert.Equal(t, "*/2 * * * *", cfg.Reaper.Schedule)
	assert.Equal(t, 8, cfg.Reaper.Concurrency)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	// untouched keys keep their defaults
	assert.Equal(t, "IfNotPresent", cfg.Kubernetes.ImagePullPolicy)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: badger\n")
	t.Setenv("KADALI_STORE_BACKEND", "memory")
	t.Setenv("KADALI_REAPER_CONCURRENCY", "2")
	t.Setenv("KADALI_LIFECYCLE_PROVISION_TIMEOUT", "45s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 2, cfg.Reaper.Concurrency)
	assert.Equal(t, 45*time.Second, cfg.Lifecycle.ProvisionTimeout)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, "server: [unclosed\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }, "unknown store backend"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = BackendPostgres }, "postgres_dsn"},
		{"badger without data dir", func(c *Config) { c.DataDir = "" }, "data_dir"},
		{"zero request timeout", func(c *Config) { c.Server.RequestTimeout = 0 }, "request_timeout"},
		{"tls without files", func(c *Config) { c.Server.TLS.Enabled = true }, "cert_file"},
		{"zero provision timeout", func(c *Config) { c.Lifecycle.ProvisionTimeout = 0 }, "provision_timeout"},
		{"negative idle minutes", func(c *Config) { c.Lifecycle.DefaultIdleMinutes = -1 }, "default_idle_minutes"},
		{"bad schedule", func(c *Config) { c.Reaper.Schedule = "every now and then" }, "schedule"},
		{"zero concurrency", func(c *Config) { c.Reaper.Concurrency = 0 }, "concurrency"},
		{"ui port out of range", func(c *Config) { c.Kubernetes.UIPort = 70000 }, "ui_port"},
		{"bad pull policy", func(c *Config) { c.Kubernetes.ImagePullPolicy = "Sometimes" }, "image_pull_policy"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "etcd"
	cfg.Reaper.Concurrency = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
	assert.Contains(t, err.Error(), "concurrency")
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Server.APIKeys = []string{"secret-1", "secret-2"}
	cfg.Client.Token = "secret-3"
	cfg.Store.PostgresDSN = "postgres://user:pw@db/kadali"

	red := cfg.Redacted()
	assert.Equal(t, []string{"[REDACTED]", "[REDACTED]"}, red.Server.APIKeys)
	assert.Equal(t, "[REDACTED]", red.Client.Token)
	assert.Equal(t, "[REDACTED]", red.Store.PostgresDSN)

	// the original is untouched
	assert.Equal(t, "secret-1", cfg.Server.APIKeys[0])
	assert.Equal(t, "secret-3", cfg.Client.Token)
}
