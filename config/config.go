// Package config provides the environment-driven configuration for the
// memmesh service and its storage tiers.
//
// Priority: defaults -> YAML file -> environment variables (MEMMESH_*).
// Presence or absence of the service URL, archive coordinates, and
// realtime credentials decides each tier's capability descriptor at
// construction time; nothing re-inspects the environment afterwards.
package config

import (
	"fmt"
	"time"
)

// Config is the complete memmesh configuration.
type Config struct {
	// Server configures the HTTP surface.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Mesh configures the fallback orchestrator.
	Mesh MeshConfig `yaml:"mesh" env:"MESH"`

	// Service configures the remote session-based tier.
	Service ServiceConfig `yaml:"service" env:"SERVICE"`

	// Local configures the SQLite-backed durable tier.
	Local LocalConfig `yaml:"local" env:"LOCAL"`

	// Archive configures the version-controlled cold tier.
	Archive ArchiveConfig `yaml:"archive" env:"ARCHIVE"`

	// Realtime configures the Redis keyed tier.
	Realtime RealtimeConfig `yaml:"realtime" env:"REALTIME"`

	// Gateway configures the external permission gate boundary.
	Gateway GatewayConfig `yaml:"gateway" env:"GATEWAY"`

	// Log configures logging output.
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// MeshConfig configures fallback ordering and per-backend timeouts.
type MeshConfig struct {
	// Order is the backend priority list. Empty means the default
	// service, local, archival, realtime.
	Order []string `yaml:"order" env:"ORDER"`

	// DataTimeout bounds each load/get/save attempt against one tier.
	DataTimeout time.Duration `yaml:"data_timeout" env:"DATA_TIMEOUT"`

	// ProbeTimeout bounds reachability probes; deliberately shorter
	// than DataTimeout.
	ProbeTimeout time.Duration `yaml:"probe_timeout" env:"PROBE_TIMEOUT"`
}

// ServiceConfig configures the remote session-based tier. The tier is
// enabled iff URL is non-empty.
type ServiceConfig struct {
	URL    string `yaml:"url" env:"URL"`
	APIKey string `yaml:"api_key" env:"API_KEY"`
}

// LocalConfig configures the SQLite file store. The tier is always
// enabled; an empty path defaults to ./data/memmesh.db.
type LocalConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// ArchiveConfig configures the version-controlled object store. The
// tier is enabled iff URL, Repo and Token are all non-empty.
type ArchiveConfig struct {
	// URL is the contents-API base, e.g. https://git.example.com/api/v1.
	URL string `yaml:"url" env:"URL"`

	// Repo is the owner/name slug of the archive repository.
	Repo string `yaml:"repo" env:"REPO"`

	Token  string `yaml:"token" env:"TOKEN"`
	Branch string `yaml:"branch" env:"BRANCH"`
}

// RealtimeConfig configures the Redis keyed tier. The tier is enabled
// iff Addr is non-empty.
type RealtimeConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// GatewayConfig configures the opaque permission gate. This subsystem
// performs no authorization logic of its own; it only extracts an
// identity and a permitted bit at the HTTP boundary.
type GatewayConfig struct {
	// JWTSecret verifies bearer tokens when the default gate is used.
	// Empty disables the gate entirely (every request permitted).
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`

	// Development switches to the console encoder.
	Development bool `yaml:"development" env:"DEVELOPMENT"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Mesh: MeshConfig{
			DataTimeout:  10 * time.Second,
			ProbeTimeout: 2 * time.Second,
		},
		Local: LocalConfig{
			Path: "./data/memmesh.db",
		},
		Archive: ArchiveConfig{
			Branch: "main",
		},
		Realtime: RealtimeConfig{
			KeyPrefix: "memmesh:",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Mesh.DataTimeout <= 0 {
		return fmt.Errorf("mesh.data_timeout must be positive")
	}
	if c.Mesh.ProbeTimeout <= 0 {
		return fmt.Errorf("mesh.probe_timeout must be positive")
	}
	for _, name := range c.Mesh.Order {
		switch name {
		case "service", "local", "archival", "realtime":
		default:
			return fmt.Errorf("mesh.order: unknown backend %q", name)
		}
	}
	return nil
}
