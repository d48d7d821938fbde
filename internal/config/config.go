// Package config loads Trellis server configuration with
// github.com/spf13/viper: defaults for the kind-inference cache, the
// default project root CLI callers may omit, and the force-claim audit
// log location.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all Trellis server configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Cache  CacheConfig  `mapstructure:"cache"`
	Audit  AuditConfig  `mapstructure:"audit"`
}

// ServerConfig carries the default project root used when an RPC caller
// omits it, and the planning-subdirectory policy for MCP-style callers
// (§4.1(b)): CLI callers pass the planning directory directly and never
// want it forced.
type ServerConfig struct {
	ProjectRoot         string `mapstructure:"project_root"`
	ForcePlanningSubdir bool   `mapstructure:"force_planning_subdir"`
}

// CacheConfig tunes the kind-inference LRU (§4.3).
type CacheConfig struct {
	KindInference KindInferenceConfig `mapstructure:"kind_inference"`
}

// KindInferenceConfig holds the LRU capacity and the hierarchical-object
// TTL fallback from §9.
type KindInferenceConfig struct {
	Capacity               int `mapstructure:"capacity"`
	HierarchicalTTLSeconds int `mapstructure:"hierarchical_ttl_seconds"`
}

// AuditConfig carries the force-claim audit log path (supplemented
// feature 4).
type AuditConfig struct {
	Path string `mapstructure:"path"`
}

// LoadConfigWithFile loads configuration from configFile if provided,
// otherwise falls back to the global XDG config location.
func LoadConfigWithFile(configFile string) (*Config, error) {
	if configFile != "" {
		return LoadConfigFromPath(configFile)
	}

	globalPath, err := GlobalConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadConfigFromPath(globalPath)
}

// LoadConfig loads configuration from trellis.yaml in the given directory.
// If no config file exists, sensible defaults are returned.
func LoadConfig(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("trellis")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromPath loads configuration from a specific file path.
func LoadConfigFromPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			if err := v.Unmarshal(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults sets all default values for configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.project_root", ".")
	v.SetDefault("server.force_planning_subdir", false)

	v.SetDefault("cache.kind_inference.capacity", 1000)
	v.SetDefault("cache.kind_inference.hierarchical_ttl_seconds", 60)

	v.SetDefault("audit.path", filepath.Join(".trellis", "audit.log"))
}
