package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultDaemonAddress is the well-known local socket of the accelerator
// runtime daemon.
const DefaultDaemonAddress = "unix:/run/accel.sock"

// Env overrides honored by ApplyEnv.
const (
	EnvDaemonAddress = "ACCEL_RTD_ADDRESS"
	EnvGroupSizes    = "ACCEL_GROUP_SIZES"
)

// Config holds runtime parameters for the client.
// Zero values mean "unspecified" and are replaced by defaults in main.
type Config struct {
	DaemonAddress string `json:"daemon_address" yaml:"daemon_address" toml:"daemon_address"`
	ExecDir       string `json:"exec_dir" yaml:"exec_dir" toml:"exec_dir"`
	GroupSizes    string `json:"group_sizes" yaml:"group_sizes" toml:"group_sizes"`
	CoreBudget    int64  `json:"core_budget" yaml:"core_budget" toml:"core_budget"`
	MaxInflight   int    `json:"max_inflight" yaml:"max_inflight" toml:"max_inflight"`
	UseShm        bool   `json:"use_shm" yaml:"use_shm" toml:"use_shm"`
	DebugAddr     string `json:"debug_addr" yaml:"debug_addr" toml:"debug_addr"`
	LogLevel      string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyEnv overlays the two environment knobs the daemon deployment
// conventionally sets, without clobbering explicit file/flag values.
func (c *Config) ApplyEnv() {
	if c.DaemonAddress == "" {
		if v := os.Getenv(EnvDaemonAddress); v != "" {
			c.DaemonAddress = v
		}
	}
	if c.GroupSizes == "" {
		if v := os.Getenv(EnvGroupSizes); v != "" {
			c.GroupSizes = v
		}
	}
	if c.DaemonAddress == "" {
		c.DaemonAddress = DefaultDaemonAddress
	}
}

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	// handle cases like ~/programs
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}
