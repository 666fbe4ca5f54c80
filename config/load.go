package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file, expands environment variables, unmarshals
// into a Config struct, and fills any field the file left zero-valued with
// its documented default. Unknown keys are rejected to catch typos early.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	expanded := ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}

	// applyDefaults cannot tell an explicit monitor_expiration of 0 (retain
	// rows forever) from an absent key, so an explicit value is restored.
	var explicit struct {
		Host struct {
			MonitorExpiration *int64 `yaml:"monitor_expiration"`
		} `yaml:"host"`
	}
	_ = yaml.Unmarshal([]byte(expanded), &explicit)
	applyDefaults(&cfg)
	if explicit.Host.MonitorExpiration != nil {
		cfg.Host.MonitorExpiration = *explicit.Host.MonitorExpiration
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// validate rejects configurations that would fail later in confusing ways,
// e.g. an unsupported DB backend or a driver entry with no executable.
func validate(cfg *Config) error {
	switch cfg.DB.Backend {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("db.backend must be \"sqlite\" or \"mysql\", got %q", cfg.DB.Backend)
	}
	for i, m := range cfg.IMMad {
		if m.Name == "" {
			return fmt.Errorf("im_mad[%d]: name is required", i)
		}
		if m.Executable == "" {
			return fmt.Errorf("im_mad[%d] %q: executable is required", i, m.Name)
		}
	}
	switch cfg.Notify.Backend {
	case "", "redis", "webhook":
	default:
		return fmt.Errorf("notify.backend must be \"redis\" or \"webhook\", got %q", cfg.Notify.Backend)
	}
	if cfg.Notify.Backend != "" && cfg.Notify.URL == "" {
		return fmt.Errorf("notify.url is required when notify.backend is set")
	}
	return nil
}
