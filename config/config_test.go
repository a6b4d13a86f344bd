package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nairamint/nexus-core/errors"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFileLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"relay": {"port": 9091, "path": "/relay"},
		"validation": {
			"primary": {"enabled": true, "base_url": "https://api.example.com"}
		}
	}`), 0o600))

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9091, cfg.Relay.Port)
	assert.Equal(t, "/relay", cfg.Relay.Path)
	// Untouched sections keep defaults
	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.True(t, cfg.Gateway.EnableCORS)
	assert.True(t, cfg.Validation.Primary.Enabled)
	assert.Equal(t, "https://api.example.com", cfg.Validation.Primary.BaseURL)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := NewLoader().LoadFile("/nonexistent/config.json")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoadFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewLoader().LoadFile(path)
	require.Error(t, err)
}

func TestLoadFileEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := NewLoader().LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, Default().Relay.Port, cfg.Relay.Port)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NEXUS_NATS_URLS", "nats://a:4222,nats://b:4222")
	t.Setenv("NEXUS_PRIMARY_API_KEY", "secret-key")

	cfg, err := NewLoader().LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "secret-key", cfg.Validation.Primary.APIKey)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad relay port", func(c *Config) { c.Relay.Port = 0 }},
		{"bad gateway port", func(c *Config) { c.Gateway.Port = 99999 }},
		{"empty relay path", func(c *Config) { c.Relay.Path = "" }},
		{"port collision", func(c *Config) { c.Gateway.Port = c.Relay.Port }},
		{"bad duration", func(c *Config) { c.Relay.PingInterval = "soon" }},
		{"primary enabled without URL", func(c *Config) { c.Validation.Primary.Enabled = true }},
		{"external enabled without URL", func(c *Config) { c.Validation.External.Enabled = true }},
		{"nats enabled without URLs", func(c *Config) { c.NATS.Enabled = true; c.NATS.URLs = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, Duration("30s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Panics(t, func() { Duration("bogus", time.Minute) })
}
