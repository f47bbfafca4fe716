package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Config holds every tunable the daemon needs, loaded in ascending
// precedence: compiled-in defaults, an optional JSONC file, then flags.
type Config struct {
	DataDir        string `json:"data_dir"`
	PoolSize       int    `json:"pool_size"`
	Buckets        int    `json:"buckets"`
	BlockSize      int    `json:"block_size"`
	TickInterval   string `json:"tick_interval"`
	JaegerEndpoint string `json:"jaeger_endpoint,omitempty"`
	StatsSnapshot  string `json:"stats_snapshot,omitempty"`
}

// DefaultConfig returns the daemon's compiled-in defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:      "./blockcache-data",
		PoolSize:     64,
		Buckets:      61,
		BlockSize:    4096,
		TickInterval: "100ms",
	}
}

// loadConfigFile reads a JSON-with-comments config file and merges any
// fields it sets onto base. A missing path is not an error.
func loadConfigFile(path string, base Config) (Config, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return Config{}, fmt.Errorf("blockcached: read config %s: %w", path, err)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("blockcached: invalid JSONC in %s: %w", path, err)
	}
	var overlay Config
	if err := json.Unmarshal(standardized, &overlay); err != nil {
		return Config{}, fmt.Errorf("blockcached: invalid config %s: %w", path, err)
	}
	return mergeConfig(base, overlay), nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}
	if overlay.PoolSize != 0 {
		base.PoolSize = overlay.PoolSize
	}
	if overlay.Buckets != 0 {
		base.Buckets = overlay.Buckets
	}
	if overlay.BlockSize != 0 {
		base.BlockSize = overlay.BlockSize
	}
	if overlay.TickInterval != "" {
		base.TickInterval = overlay.TickInterval
	}
	if overlay.JaegerEndpoint != "" {
		base.JaegerEndpoint = overlay.JaegerEndpoint
	}
	if overlay.StatsSnapshot != "" {
		base.StatsSnapshot = overlay.StatsSnapshot
	}
	return base
}
