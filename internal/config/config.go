// Package config implements TOML configuration loading for both the
// server node and the caching node, following the teacher's
// BurntSushi/toml-based config package (grounded on
// tonimelisma-onedrive-go/internal/config/config.go) narrowed to the
// surface spec §6 names: {root_path, host, logging}, plus the cache
// node's upstream/cache-specific additions.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// ServerConfig is the authoritative node's configuration.
type ServerConfig struct {
	RootPath string        `toml:"root_path"`
	Host     string        `toml:"host"`
	Logging  LoggingConfig `toml:"logging"`
}

// CacheConfig is the caching node's configuration: a superset of the
// server's surface plus where to find the upstream authoritative node and
// an optional diagnostic watch directory (SPEC_FULL §4.3).
type CacheConfig struct {
	RootPath string        `toml:"root_path"`
	Host     string        `toml:"host"`
	Logging  LoggingConfig `toml:"logging"`
	Upstream string        `toml:"upstream"`
	Cache    CacheSection  `toml:"cache"`
}

// CacheSection is the cache node's own [cache] table.
type CacheSection struct {
	WatchDir        string `toml:"watch_dir"`
	NotifyWebsocket bool   `toml:"notify_websocket"`
	PollInterval    string `toml:"poll_interval"`
}

// LoggingConfig controls log output, following the teacher's own
// LoggingConfig shape.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

// LoadServer decodes a ServerConfig from the TOML file at path, applying
// defaults for any field the file omits.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := ServerConfig{
		RootPath: "./data",
		Host:     ":8080",
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %q: %w", path, err)
	}

	return &cfg, nil
}

// LoadCache decodes a CacheConfig from the TOML file at path, applying
// defaults for any field the file omits.
func LoadCache(path string) (*CacheConfig, error) {
	cfg := CacheConfig{
		RootPath: "./cache-data",
		Host:     ":8081",
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Cache:    CacheSection{PollInterval: "30s"},
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %q: %w", path, err)
	}

	if cfg.Upstream == "" {
		return nil, fmt.Errorf("config: %q: upstream is required for a caching node", path)
	}

	return &cfg, nil
}
