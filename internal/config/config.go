// Package config loads server configuration from a YAML file (with
// environment-variable overrides), the same viper-backed layering the
// teacher CLI uses for its own config file.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of server-tunable settings.
type Config struct {
	// DataDir holds the SQLite file (embedded dialect) and external
	// payload files.
	DataDir string `mapstructure:"data_dir"`

	// SocketPath is the local stream socket path; empty falls back to
	// loopback TCP on Port (spec §6 "client transport").
	SocketPath string `mapstructure:"socket_path"`
	Port       int    `mapstructure:"port"`

	InstanceID string `mapstructure:"instance_id"`

	Driver driverConfig `mapstructure:"driver"`

	// PayloadThreshold is the byte size above which a part is stored
	// externally instead of inline; a part of exactly this size stays
	// inline (spec §4.3).
	PayloadThreshold int64 `mapstructure:"payload_threshold"`

	CacheCleaner cacheCleanerConfig `mapstructure:"cache_cleaner"`

	RetrieverTimeout time.Duration `mapstructure:"retriever_timeout"`
}

type driverConfig struct {
	Dialect       string `mapstructure:"dialect"` // "sqlite" or "mysql"
	DSN           string `mapstructure:"dsn"`
	StmtCacheSize int    `mapstructure:"stmt_cache_size"`
}

type cacheCleanerConfig struct {
	SweepGrace time.Duration `mapstructure:"sweep_grace"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")
	v.SetDefault("socket_path", "")
	v.SetDefault("port", 0)
	v.SetDefault("instance_id", "")
	v.SetDefault("driver.dialect", "sqlite")
	v.SetDefault("driver.stmt_cache_size", 128)
	v.SetDefault("payload_threshold", 4096)
	v.SetDefault("cache_cleaner.sweep_grace", "10m")
	v.SetDefault("retriever_timeout", "30s")
}

// Load reads configuration from path (YAML), falling back to defaults
// for anything unset, and overriding from AKONADI_-prefixed environment
// variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix("akonadi")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.Driver.DSN == "" && cfg.DataDir != "" {
		cfg.Driver.DSN = cfg.DataDir + "/akonadi.db"
	}
	return &cfg, nil
}
