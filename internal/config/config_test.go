package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "vkd.json")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"storage"`)
	assert.Contains(t, string(raw), `"750ms"`)

	again, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadRejectsDirectory(t *testing.T) {
	_, err := Load(New(), t.TempDir())
	assert.ErrorIs(t, err, ErrFoundDirectory)
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "address": "127.0.0.1",
  "port": 9999,
  "storage": {"backend": "sqlite", "path": "/var/lib/vkd/instances.db"},
  "reconcile": {"interval": "2s"}
}`), 0o644))

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.HTTPAddress())
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, "/var/lib/vkd/instances.db", cfg.Storage.Path)
	assert.Equal(t, 2*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 50*time.Millisecond, cfg.Reconcile.LockTimeout)
	assert.Equal(t, "volkanic/host:latest", cfg.Runtime.Image)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkd.json")
	require.NoError(t, WriteDefault(path))
	t.Setenv("VKD_DEBUG", "true")
	t.Setenv("VKD_STORAGE_BACKEND", "badger")
	t.Setenv("VKD_NATS_URL", "nats://127.0.0.1:4222")

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
}

func TestFlagsOverrideEverything(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkd.json")
	require.NoError(t, WriteDefault(path))
	t.Setenv("VKD_PORT", "7000")

	v := New()
	fs := pflag.NewFlagSet("vkd", pflag.ContinueOnError)
	require.NoError(t, BindFlags(v, fs))
	require.NoError(t, fs.Parse([]string{"-a", "10.0.0.1", "-p", "9000", "--add-latency", "25"}))

	cfg, err := Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", cfg.Address)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 25, cfg.AddLatency)
}

func TestUnsetFlagsKeepFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vkd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"port": 8181}`), 0o644))

	v := New()
	fs := pflag.NewFlagSet("vkd", pflag.ContinueOnError)
	require.NoError(t, BindFlags(v, fs))
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load(v, path)
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Port)
	assert.Equal(t, "0.0.0.0", cfg.Address)
	assert.Zero(t, cfg.AddLatency)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }},
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }},
		{"empty image", func(c *Config) { c.Runtime.Image = "" }},
		{"bad port", func(c *Config) { c.Port = 70000 }},
		{"negative latency", func(c *Config) { c.AddLatency = -1 }},
		{"zero buffer", func(c *Config) { c.Events.Buffer = 0 }},
		{"zero interval", func(c *Config) { c.Reconcile.Interval = 0 }},
	}
	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}
