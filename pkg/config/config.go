package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultSocketPath is the unix socket the control surface listens on.
	DefaultSocketPath = "/var/run/nexd/nexd.sock"

	// DefaultDataDir holds the bolt database with persisted nexus records.
	DefaultDataDir = "/var/lib/nexd"

	// DefaultMetricsAddr serves prometheus metrics.
	DefaultMetricsAddr = ":9502"

	// DefaultChildTimeout bounds a single sub-operation against one child.
	DefaultChildTimeout = 30 * time.Second
)

// Config holds the daemon configuration.
type Config struct {
	SocketPath   string        `yaml:"socket_path"`
	DataDir      string        `yaml:"data_dir"`
	MetricsAddr  string        `yaml:"metrics_addr"`
	LogLevel     string        `yaml:"log_level"`
	LogJSON      bool          `yaml:"log_json"`
	ChildTimeout time.Duration `yaml:"child_timeout"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		SocketPath:   DefaultSocketPath,
		DataDir:      DefaultDataDir,
		MetricsAddr:  DefaultMetricsAddr,
		LogLevel:     "info",
		ChildTimeout: DefaultChildTimeout,
	}
}

// Load reads a YAML config file on top of the defaults. A missing path is
// not an error; defaults and environment overrides still apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if cfg.ChildTimeout <= 0 {
		cfg.ChildTimeout = DefaultChildTimeout
	}

	return cfg, nil
}

// UnmarshalYAML decodes a config document, accepting child_timeout as a Go
// duration string ("30s"). Absent fields keep their current values.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		SocketPath   string `yaml:"socket_path"`
		DataDir      string `yaml:"data_dir"`
		MetricsAddr  string `yaml:"metrics_addr"`
		LogLevel     string `yaml:"log_level"`
		LogJSON      *bool  `yaml:"log_json"`
		ChildTimeout string `yaml:"child_timeout"`
	}
	var r raw
	if err := value.Decode(&r); err != nil {
		return err
	}

	if r.SocketPath != "" {
		c.SocketPath = r.SocketPath
	}
	if r.DataDir != "" {
		c.DataDir = r.DataDir
	}
	if r.MetricsAddr != "" {
		c.MetricsAddr = r.MetricsAddr
	}
	if r.LogLevel != "" {
		c.LogLevel = r.LogLevel
	}
	if r.LogJSON != nil {
		c.LogJSON = *r.LogJSON
	}
	if r.ChildTimeout != "" {
		d, err := time.ParseDuration(r.ChildTimeout)
		if err != nil {
			return fmt.Errorf("invalid child_timeout %q: %w", r.ChildTimeout, err)
		}
		c.ChildTimeout = d
	}
	return nil
}

// applyEnv overrides file values with NEXD_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("NEXD_SOCKET"); v != "" {
		c.SocketPath = v
	}
	if v := os.Getenv("NEXD_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("NEXD_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("NEXD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
