// Package config reads the process/connection options recognized by the
// datastore engine, following the teacher's cmd/warren/apply.go pattern of
// parsing a YAML file with gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/sysrepod/internal/logging"
	"gopkg.in/yaml.v3"
)

// Config holds process-wide options (§6 External Interfaces).
type Config struct {
	// ShmPrefix selects the SHM filename prefix. Overridden by the
	// <PREFIX>_SHM_PREFIX environment variable at Load time.
	ShmPrefix string `yaml:"shm_prefix"`

	// RepoPath is the root of persisted per-module files
	// (<repo>/data/<mod>.startup, <repo>/yang/<mod>.yang, ...).
	RepoPath string `yaml:"repo_path"`

	// ShmPath is the directory holding the <prefix>_main/<prefix>_ext
	// shared-memory files and the per-connection lock directory.
	ShmPath string `yaml:"shm_path"`

	// StrictPermissions selects strict vs. non-strict permission-gate
	// behavior (§4.4) when no per-call override is supplied.
	StrictPermissions bool `yaml:"strict_permissions"`

	// RunningCacheEnabled toggles the process-local running-data cache
	// (§4.7). Disabling it forces every load to hit the persisted file.
	RunningCacheEnabled bool `yaml:"running_cache_enabled"`

	// RunningCacheSize bounds the LRU cache entry count; 0 (or less) sizes
	// the cache to the module slot capacity.
	RunningCacheSize int `yaml:"running_cache_size"`

	// DefaultTimeoutMS is the default absolute-deadline budget, in
	// milliseconds, applied to lock acquisition and provider rendezvous
	// calls when the caller does not supply its own.
	DefaultTimeoutMS int `yaml:"default_timeout_ms"`

	LogLevel  string `yaml:"log_level"`
	LogJSON   bool   `yaml:"log_json"`
}

// Default returns the built-in defaults used when no config file is
// present, matching the values a fresh sysrepod.yaml would resolve to.
func Default() *Config {
	return &Config{
		ShmPrefix:           "sr",
		RepoPath:            "/etc/sysrepo",
		ShmPath:             "/dev/shm",
		StrictPermissions:   false,
		RunningCacheEnabled: true,
		RunningCacheSize:    0,
		DefaultTimeoutMS:    2500,
		LogLevel:            "info",
		LogJSON:             true,
	}
}

// Load reads a YAML config file and applies the <PREFIX>_SHM_PREFIX
// environment override. A missing file is not an error: Default() is
// returned as-is (minus the env override, which still applies).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// shmPrefixEnvVar is the <PREFIX>_SHM_PREFIX environment variable from
// spec.md §6. The leading segment is the engine's own fixed namespace, not
// the value it sets — i.e. this selects the shm_prefix config field, it
// does not itself vary with shm_prefix.
const shmPrefixEnvVar = "SYSREPOD_SHM_PREFIX"

func (c *Config) applyEnv() error {
	val, ok := os.LookupEnv(shmPrefixEnvVar)
	if !ok || val == "" {
		return nil
	}
	if strings.Contains(val, "/") {
		return fmt.Errorf("%s must not contain '/', got %q", shmPrefixEnvVar, val)
	}
	c.ShmPrefix = val
	logging.Debug(fmt.Sprintf("config: %s overrides shm_prefix=%s", shmPrefixEnvVar, val))
	return nil
}
