package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "15s" or "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the sync agent configuration.
type Config struct {
	// APIBase is the base URL of the remote field-operations API.
	APIBase string `yaml:"apiBase"`

	// HealthPath is probed to detect connectivity transitions.
	HealthPath string `yaml:"healthPath"`

	// DataDir holds the durable store (mutation queue, entity cache,
	// edge response cache).
	DataDir string `yaml:"dataDir"`

	// ListenAddr is the local address the UI talks to (JSON API).
	ListenAddr string `yaml:"listenAddr"`

	// EdgeListenAddr is the local address of the intercepting edge
	// proxy. Empty disables the proxy.
	EdgeListenAddr string `yaml:"edgeListenAddr"`

	// ProbeInterval is the connectivity probe period.
	ProbeInterval Duration `yaml:"probeInterval"`

	// NetworkTimeout bounds network-first fetches before falling back
	// to cache.
	NetworkTimeout Duration `yaml:"networkTimeout"`

	// MaxAttempts quarantines a pending mutation after this many failed
	// replay attempts. Zero keeps retrying forever.
	MaxAttempts int `yaml:"maxAttempts"`

	// ReplayRate caps replay submissions per second.
	ReplayRate float64 `yaml:"replayRate"`

	Edge EdgeConfig `yaml:"edge"`

	Log LogConfig `yaml:"log"`
}

// EdgeConfig configures the edge cache / request router.
type EdgeConfig struct {
	// CacheVersion prefixes every response-cache key; bumping it and
	// restarting discards entries written under older versions.
	CacheVersion string `yaml:"cacheVersion"`

	// ShellPath is the cached application-shell document served when a
	// navigation request cannot be satisfied from network or cache.
	ShellPath string `yaml:"shellPath"`

	// Precache lists shell asset paths fetched and cached at startup.
	Precache []string `yaml:"precache"`

	// WriteEndpoint is the one mutating path whose failed requests are
	// captured into the durable write-retry queue.
	WriteEndpoint string `yaml:"writeEndpoint"`

	// WriteRetention bounds how long a captured write is retried.
	WriteRetention Duration `yaml:"writeRetention"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HealthPath:     "/health",
		DataDir:        "./fieldsync-data",
		ListenAddr:     "127.0.0.1:8600",
		EdgeListenAddr: "127.0.0.1:8601",
		ProbeInterval:  Duration(15 * time.Second),
		NetworkTimeout: Duration(4 * time.Second),
		MaxAttempts:    50,
		ReplayRate:     10,
		Edge: EdgeConfig{
			CacheVersion:   "v1",
			ShellPath:      "/",
			WriteEndpoint:  "/predatorrecords",
			WriteRetention: Duration(24 * time.Hour),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults. A missing path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.APIBase == "" {
		return fmt.Errorf("apiBase is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("dataDir is required")
	}
	return nil
}
