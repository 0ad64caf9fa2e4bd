package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultServer  = "http://localhost:8080"
	DefaultTimeout = 30 * time.Second
)

type Config struct {
	Server  string
	Token   string
	Timeout time.Duration
}

type fileConfig struct {
	Server  string `toml:"server"`
	Token   string `toml:"token"`
	Timeout string `toml:"timeout"`
}

// LoadConfig reads the recordctl config file, if any, and applies
// RECORDCTL_* environment overrides.
func LoadConfig() (*Config, error) {
	return loadConfigFrom(configFilePath())
}

func loadConfigFrom(path string) (*Config, error) {
	cfg := &Config{
		Server:  DefaultServer,
		Timeout: DefaultTimeout,
	}

	if path != "" {
		var fc fileConfig
		if _, err := toml.DecodeFile(path, &fc); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if fc.Server != "" {
			cfg.Server = fc.Server
		}
		cfg.Token = fc.Token
		if fc.Timeout != "" {
			d, err := time.ParseDuration(fc.Timeout)
			if err != nil {
				return nil, fmt.Errorf("invalid timeout %q in %s: %w", fc.Timeout, path, err)
			}
			cfg.Timeout = d
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("RECORDCTL_SERVER"); v != "" {
		cfg.Server = v
	}
	if v := os.Getenv("RECORDCTL_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("RECORDCTL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid RECORDCTL_TIMEOUT=%q: %w", v, err)
		}
		cfg.Timeout = d
	}
	return nil
}

func configFilePath() string {
	var configDir string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "recordctl")
	} else if home, err := os.UserHomeDir(); err == nil {
		configDir = filepath.Join(home, ".config", "recordctl")
	} else {
		return ""
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}
