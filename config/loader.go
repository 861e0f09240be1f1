package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads a BusConfig from a YAML file, applying environment
// overrides and validation the same way on every path in (file, reader,
// or defaults only).
type Loader struct {
	envPrefix string
}

// NewLoader returns a Loader using the SNGOBUS_ environment prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "SNGOBUS"}
}

// SetEnvPrefix overrides the environment variable prefix (default
// "SNGOBUS").
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load reads filename if non-empty, otherwise starts from
// DefaultBusConfig, applies environment overrides, and validates the
// result.
func (l *Loader) Load(filename string) (*BusConfig, error) {
	cfg := DefaultBusConfig()

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrConfigFileNotFound
			}
			return nil, fmt.Errorf("config: reading %s: %w", filename, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", filename, err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader parses YAML config from r on top of DefaultBusConfig,
// then applies environment overrides and validation like Load.
func (l *Loader) LoadFromReader(r io.Reader) (*BusConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: reading input: %w", err)
	}

	cfg := DefaultBusConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing input: %w", err)
	}
	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) applyEnv(cfg *BusConfig) error {
	if v := os.Getenv(l.envPrefix + "_BIND_HOST"); v != "" {
		cfg.BindHost = v
	}
	if v := os.Getenv(l.envPrefix + "_BIND_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s_BIND_PORT: %w", l.envPrefix, err)
		}
		cfg.BindPort = port
	}
	if v := os.Getenv(l.envPrefix + "_CLUSTER_PUBLIC_HOST"); v != "" {
		cfg.PublicHost = v
	}
	if v := os.Getenv(l.envPrefix + "_CLUSTER_PUBLIC_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s_CLUSTER_PUBLIC_PORT: %w", l.envPrefix, err)
		}
		cfg.PublicPort = port
	}
	if v := os.Getenv(l.envPrefix + "_DEFAULT_REPLY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s_DEFAULT_REPLY_TIMEOUT: %w", l.envPrefix, err)
		}
		cfg.DefaultReplyTimeout = d
	}
	if v := os.Getenv(l.envPrefix + "_PING_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s_PING_INTERVAL: %w", l.envPrefix, err)
		}
		cfg.PingInterval = d
	}
	if v := os.Getenv(l.envPrefix + "_PONG_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s_PONG_TIMEOUT: %w", l.envPrefix, err)
		}
		cfg.PongTimeout = d
	}
	if v := os.Getenv(l.envPrefix + "_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	return nil
}
