package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8440, cfg.Port)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 4, cfg.RedundantNodes)
	assert.Equal(t, 3, cfg.ParallelProbes)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Port = -1 },
			wantErr: "invalid port",
		},
		{
			name:    "invalid http port",
			mutate:  func(c *Config) { c.HTTPPort = 70000 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "zero neighbor list",
			mutate:  func(c *Config) { c.NeighborListSize = 0 },
			wantErr: "neighbor list size",
		},
		{
			name:    "zero redundancy",
			mutate:  func(c *Config) { c.RedundantNodes = 0 },
			wantErr: "redundant nodes",
		},
		{
			name:    "zero parallel probes",
			mutate:  func(c *Config) { c.ParallelProbes = 0 },
			wantErr: "parallel probes",
		},
		{
			name:    "zero rpc timeout",
			mutate:  func(c *Config) { c.RPCTimeout = 0 },
			wantErr: "rpc timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Run("overrides defaults", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.yaml")

		data := []byte(`
host: 10.0.0.5
port: 9100
redundant_nodes: 8
rpc_timeout: 2s
bootstrap_nodes:
  - 10.0.0.1:8440
  - 10.0.0.2:8440
`)
		require.NoError(t, os.WriteFile(path, data, 0644))

		cfg, err := LoadFile(path)
		require.NoError(t, err)

		assert.Equal(t, "10.0.0.5", cfg.Host)
		assert.Equal(t, 9100, cfg.Port)
		assert.Equal(t, 8, cfg.RedundantNodes)
		assert.Equal(t, 2*time.Second, cfg.RPCTimeout)
		assert.Equal(t, []string{"10.0.0.1:8440", "10.0.0.2:8440"}, cfg.BootstrapNodes)

		// Untouched fields keep their defaults
		assert.Equal(t, 8080, cfg.HTTPPort)
		assert.Equal(t, 3, cfg.ParallelProbes)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile("/nonexistent/config.yaml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("host: [unclosed"), 0644))

		_, err := LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse config file")
	})
}
