package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the balancer process configuration.
type Config struct {
	// DataDir is where the persistent command log lives.
	DataDir string `yaml:"data_dir"`

	// ListenAddr is the admin HTTP API address.
	ListenAddr string `yaml:"listen_addr"`

	Log LogConfig `yaml:"log"`

	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Shards seeds the shard registry at startup. Entries can also be
	// managed at runtime through the admin API.
	Shards map[string]string `yaml:"shards"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SchedulerConfig tunes command dispatch.
type SchedulerConfig struct {
	// MaxInFlight bounds concurrently dispatched commands.
	MaxInFlight int `yaml:"max_inflight"`

	// LockTimeout bounds a single distributed-lock acquisition attempt.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// CommandTimeout bounds one remote command round trip.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		DataDir:    "/var/lib/burrow",
		ListenAddr: ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Scheduler: SchedulerConfig{
			MaxInFlight:    16,
			LockTimeout:    100 * time.Millisecond,
			CommandTimeout: 60 * time.Second,
		},
	}
}

// Load reads a YAML config file and fills unset fields with defaults. An
// empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %v", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = Default().DataDir
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = Default().ListenAddr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = Default().Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = Default().Log.Format
	}
	if cfg.Scheduler.MaxInFlight <= 0 {
		cfg.Scheduler.MaxInFlight = Default().Scheduler.MaxInFlight
	}
	if cfg.Scheduler.LockTimeout <= 0 {
		cfg.Scheduler.LockTimeout = Default().Scheduler.LockTimeout
	}
	if cfg.Scheduler.CommandTimeout <= 0 {
		cfg.Scheduler.CommandTimeout = Default().Scheduler.CommandTimeout
	}
	return cfg, nil
}
