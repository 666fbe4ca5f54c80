// Package config loads the daemon's YAML configuration file: the
// orchestrator XML-RPC endpoint, database backend, UDP listener, the
// IM_MAD driver table, and the HOST.* sweeper tunables. All values are
// optional and serve as defaults for CLI flags, the same override
// relationship the teacher's quarry.yaml has with its run flags.
package config

import (
	"fmt"
	"time"
)

// Config represents an onemonitord.yaml configuration file.
type Config struct {
	OneXMLRPC   string       `yaml:"one_xmlrpc"`
	MessageSize int64        `yaml:"message_size"`
	Timeout     Duration     `yaml:"timeout"`
	DB          DBConfig     `yaml:"db"`
	UDPListener UDPConfig    `yaml:"udp_listener"`
	DriverDir   string       `yaml:"driver_dir"`
	IMMad       []IMMad      `yaml:"im_mad"`
	Host        HostConfig   `yaml:"host"`
	Notify      NotifyConfig `yaml:"notify"`
}

// DBConfig selects and parameterizes the monitoring-row store's backend.
type DBConfig struct {
	Backend     string `yaml:"backend"` // "sqlite" | "mysql"
	Server      string `yaml:"server"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Name        string `yaml:"name"`
	Encoding    string `yaml:"encoding"`
	Connections int    `yaml:"connections"`
	Path        string `yaml:"path"` // sqlite file path, when Backend == "sqlite"
}

// UDPConfig configures the datagram ingest surface.
type UDPConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	Threads int    `yaml:"threads"`
}

// IMMad is one configured probe driver entry.
type IMMad struct {
	Name       string   `yaml:"name"`
	Executable string   `yaml:"executable"`
	Arguments  []string `yaml:"arguments"`
	Threads    int      `yaml:"threads"`
}

// HostConfig holds the sweeper's tunables, sourced from the HOST.*
// configuration entries.
type HostConfig struct {
	MonitorExpiration  int64 `yaml:"monitor_expiration"`
	MonitoringInterval int64 `yaml:"monitoring_interval"`
	MonitoringThreads  int   `yaml:"monitoring_threads"`
}

// NotifyConfig configures the optional downstream notify.Adapter. Empty
// Backend disables the side channel entirely.
type NotifyConfig struct {
	Backend string            `yaml:"backend"` // "" | "redis" | "webhook"
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"` // webhook backend only
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "30s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "30s" or "5m".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Default returns the configuration defaults documented for each field
// that is not present in a loaded file.
func Default() Config {
	return Config{
		OneXMLRPC:   "http://localhost:2633/RPC2",
		MessageSize: 1073741824,
		Timeout:     Duration{60 * time.Second},
		DB:          DBConfig{Backend: "sqlite", Path: "onemonitord.db"},
		UDPListener: UDPConfig{Address: "0.0.0.0", Port: 4124, Threads: 16},
		Host: HostConfig{
			MonitorExpiration:  86400,
			MonitoringInterval: 60,
		},
	}
}

// applyDefaults fills zero-valued fields in cfg with Default()'s values,
// leaving non-zero values untouched. A zero the file set explicitly is
// replaced as well; Load restores an explicit host.monitor_expiration.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.OneXMLRPC == "" {
		cfg.OneXMLRPC = d.OneXMLRPC
	}
	if cfg.MessageSize == 0 {
		cfg.MessageSize = d.MessageSize
	}
	if cfg.Timeout.Duration == 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.DB.Backend == "" {
		cfg.DB.Backend = d.DB.Backend
	}
	if cfg.DB.Backend == "sqlite" && cfg.DB.Path == "" {
		cfg.DB.Path = d.DB.Path
	}
	if cfg.UDPListener.Address == "" {
		cfg.UDPListener.Address = d.UDPListener.Address
	}
	if cfg.UDPListener.Port == 0 {
		cfg.UDPListener.Port = d.UDPListener.Port
	}
	if cfg.UDPListener.Threads == 0 {
		cfg.UDPListener.Threads = d.UDPListener.Threads
	}
	if cfg.Host.MonitorExpiration == 0 {
		cfg.Host.MonitorExpiration = d.Host.MonitorExpiration
	}
	if cfg.Host.MonitoringInterval == 0 {
		cfg.Host.MonitoringInterval = d.Host.MonitoringInterval
	}
}
