package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for an epiring node
type Config struct {
	// Node identification
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// HTTP API
	HTTPPort int `yaml:"http_port"`

	// Bootstrap
	BootstrapNodes []string `yaml:"bootstrap_nodes"`

	// Overlay parameters
	StabilizeInterval  time.Duration `yaml:"stabilize_interval"`   // How often to refresh neighbor lists
	CacheTTL           time.Duration `yaml:"cache_ttl"`            // Lifetime of cached far pointers
	CachePurgeInterval time.Duration `yaml:"cache_purge_interval"` // How often expired pointers are purged
	NeighborListSize   int           `yaml:"neighbor_list_size"`   // Successors/predecessors tracked per side

	// Lookup parameters
	RedundantNodes int           `yaml:"redundant_nodes"` // Redundancy factor; sizes the candidate pool
	ParallelProbes int           `yaml:"parallel_probes"` // Concurrent probes per lookup round
	RPCTimeout     time.Duration `yaml:"rpc_timeout"`     // Per-probe timeout
	RPCRetries     int           `yaml:"rpc_retries"`     // Probe attempts before a peer is declared dead

	// Logging
	LogLevel  string `yaml:"log_level"`  // trace, debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Host:               "127.0.0.1",
		Port:               8440,
		HTTPPort:           8080,
		StabilizeInterval:  3 * time.Second,
		CacheTTL:           2 * time.Minute,
		CachePurgeInterval: 30 * time.Second,
		NeighborListSize:   4,
		RedundantNodes:     4,
		ParallelProbes:     3,
		RPCTimeout:         5 * time.Second,
		RPCRetries:         2,
		LogLevel:           "info",
		LogFormat:          "console",
	}
}

// LoadFile reads a YAML config file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.NeighborListSize <= 0 {
		return fmt.Errorf("neighbor list size must be positive, got %d", c.NeighborListSize)
	}
	if c.RedundantNodes <= 0 {
		return fmt.Errorf("redundant nodes must be positive, got %d", c.RedundantNodes)
	}
	if c.ParallelProbes <= 0 {
		return fmt.Errorf("parallel probes must be positive, got %d", c.ParallelProbes)
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("rpc timeout must be positive, got %s", c.RPCTimeout)
	}
	return nil
}
