// Package config provides configuration loading and validation for
// nexus-core. Configuration is a single JSON document with per-component
// sections; durations are encoded as strings (e.g. "30s").
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nairamint/nexus-core/errors"
)

// Config is the root configuration document
type Config struct {
	Relay      RelayConfig      `json:"relay"`
	Gateway    GatewayConfig    `json:"gateway"`
	Validation ValidationConfig `json:"validation"`
	NATS       NATSConfig       `json:"nats"`
}

// RelayConfig configures the WebSocket relay server
type RelayConfig struct {
	Port         int    `json:"port"`
	Path         string `json:"path"`
	PingInterval string `json:"ping_interval,omitempty"`
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// GatewayConfig configures the HTTP gateway
type GatewayConfig struct {
	Port           int      `json:"port"`
	EnableCORS     bool     `json:"enable_cors"`
	CORSOrigins    []string `json:"cors_origins,omitempty"`
	MaxRequestSize int64    `json:"max_request_size,omitempty"`
	RequestTimeout string   `json:"request_timeout,omitempty"`
}

// TierConfig configures one remote validation tier
type TierConfig struct {
	Enabled          bool   `json:"enabled"`
	BaseURL          string `json:"base_url"`
	ValidatePath     string `json:"validate_path,omitempty"`
	HealthPath       string `json:"health_path,omitempty"`
	CapabilitiesPath string `json:"capabilities_path,omitempty"`
	APIKey           string `json:"api_key,omitempty"`
}

// ValidationConfig configures the validation pipeline
type ValidationConfig struct {
	Primary       TierConfig `json:"primary"`
	External      TierConfig `json:"external"`
	TierTimeout   string     `json:"tier_timeout,omitempty"`
	ProbeInterval string     `json:"probe_interval,omitempty"`
}

// NATSConfig configures the optional NATS event bridge
type NATSConfig struct {
	Enabled        bool     `json:"enabled"`
	URLs           []string `json:"urls,omitempty"`
	Subjects       []string `json:"subjects,omitempty"`
	PublishSubject string   `json:"publish_subject,omitempty"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			Port:         8081,
			Path:         "/ws",
			PingInterval: "30s",
			ReadTimeout:  "60s",
			WriteTimeout: "10s",
		},
		Gateway: GatewayConfig{
			Port:           8080,
			EnableCORS:     true,
			CORSOrigins:    []string{"*"},
			MaxRequestSize: 1 << 20,
			RequestTimeout: "15s",
		},
		Validation: ValidationConfig{
			Primary:       TierConfig{ValidatePath: "/api/validate", HealthPath: "/api/health", CapabilitiesPath: "/api/capabilities"},
			External:      TierConfig{ValidatePath: "/api/analyze", HealthPath: "/api/health"},
			TierTimeout:   "15s",
			ProbeInterval: "1m",
		},
		NATS: NATSConfig{
			URLs:           []string{"nats://localhost:4222"},
			Subjects:       []string{"nexus.events.>"},
			PublishSubject: "nexus.events.compliance",
		},
	}
}

// Loader loads configuration files
type Loader struct{}

// NewLoader creates a configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFile reads a JSON config file, layering it over defaults and applying
// environment overrides. An empty path returns defaults with overrides.
func (l *Loader) LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "read config file "+path)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "parse config file "+path)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides layers NEXUS_* environment variables over the config
func applyEnvOverrides(cfg *Config) {
	if urls := os.Getenv("NEXUS_NATS_URLS"); urls != "" {
		cfg.NATS.URLs = strings.Split(urls, ",")
	}
	if key := os.Getenv("NEXUS_PRIMARY_API_KEY"); key != "" {
		cfg.Validation.Primary.APIKey = key
	}
	if key := os.Getenv("NEXUS_EXTERNAL_API_KEY"); key != "" {
		cfg.Validation.External.APIKey = key
	}
}

// Validate checks the configuration for contradictions
func (c *Config) Validate() error {
	if err := validatePort("relay.port", c.Relay.Port); err != nil {
		return err
	}
	if err := validatePort("gateway.port", c.Gateway.Port); err != nil {
		return err
	}
	if c.Relay.Path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", "relay.path cannot be empty")
	}
	if c.Relay.Port == c.Gateway.Port {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("relay and gateway cannot share port %d", c.Relay.Port))
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"relay.ping_interval", c.Relay.PingInterval},
		{"relay.read_timeout", c.Relay.ReadTimeout},
		{"relay.write_timeout", c.Relay.WriteTimeout},
		{"gateway.request_timeout", c.Gateway.RequestTimeout},
		{"validation.tier_timeout", c.Validation.TierTimeout},
		{"validation.probe_interval", c.Validation.ProbeInterval},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "parse "+d.name)
		}
	}

	if c.Validation.Primary.Enabled && c.Validation.Primary.BaseURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"validation.primary.base_url required when primary tier is enabled")
	}
	if c.Validation.External.Enabled && c.Validation.External.BaseURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"validation.external.base_url required when external tier is enabled")
	}

	if c.NATS.Enabled && len(c.NATS.URLs) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"nats.urls required when NATS is enabled")
	}

	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("invalid %s %d", name, port))
	}
	return nil
}

// Duration parses a duration field, returning the fallback when the field is
// empty. Call Validate first; this panics on malformed values.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated duration %q: %v", value, err))
	}
	return d
}
