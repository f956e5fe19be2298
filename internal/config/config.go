// Package config handles configuration loading for foreman.
// It supports XDG config paths, project-level overrides, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for foreman.
type Config struct {
	// Workspace is the repository the workers operate in.
	Workspace string        `mapstructure:"workspace"`
	Redis     RedisConfig   `mapstructure:"redis"`
	Queues    QueuesConfig  `mapstructure:"queues"`
	Pool      PoolConfig    `mapstructure:"pool"`
	Worker    WorkerConfig  `mapstructure:"worker"`
	Planner   PlannerConfig `mapstructure:"planner"`
	Monitor   MonitorConfig `mapstructure:"monitor"`
}

// RedisConfig holds queue backing store settings.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	DB   int    `mapstructure:"db"`
}

// QueuesConfig names the work and results queues.
type QueuesConfig struct {
	Work    string `mapstructure:"work"`
	Results string `mapstructure:"results"`
}

// PoolConfig holds supervisor and auto-scaling settings.
type PoolConfig struct {
	// MaxWorkers bounds the pool size. Spawns beyond this always fail.
	MaxWorkers int `mapstructure:"max_workers"`
	// HighWater is the queue depth beyond which a second worker is added.
	HighWater int64 `mapstructure:"high_water"`
	// ScaleInterval is the control loop tick.
	ScaleInterval time.Duration `mapstructure:"scale_interval"`
	// WorkerTimeout is the heartbeat age at which a worker is reported
	// unhealthy.
	WorkerTimeout time.Duration `mapstructure:"worker_timeout"`
	// GracePeriod is how long a stopped worker gets between SIGTERM
	// and SIGKILL.
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// WorkerConfig holds worker loop settings.
type WorkerConfig struct {
	// Attempts is the per-item retry budget.
	Attempts int `mapstructure:"attempts"`
	// PopTimeout bounds the blocking pop on the work queue.
	PopTimeout time.Duration `mapstructure:"pop_timeout"`
	// CoderCommand is the external coder service invocation. It receives
	// the work item JSON on stdin and must print a unified diff.
	CoderCommand string `mapstructure:"coder_command"`
}

// PlannerConfig holds decomposition settings.
type PlannerConfig struct {
	// Command is the external planner invocation. It receives the goal
	// JSON on stdin and must print a plan JSON document.
	Command string `mapstructure:"command"`
}

// MonitorConfig holds result-monitor settings.
type MonitorConfig struct {
	// PopTimeout bounds each drain pop on the results queue.
	PopTimeout time.Duration `mapstructure:"pop_timeout"`
	// MaxIterations is the monitoring iteration budget; exhausting it
	// yields a timeout outcome, not an error.
	MaxIterations int `mapstructure:"max_iterations"`
}

// Load loads configuration with the following precedence (highest first):
// FOREMAN_* environment variables, project config (.foreman/config.yaml),
// user config (~/.config/foreman/config.yaml), built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("FOREMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace", ".")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queues.work", "worker_queue")
	v.SetDefault("queues.results", "results_queue")
	v.SetDefault("pool.max_workers", 3)
	v.SetDefault("pool.high_water", 2)
	v.SetDefault("pool.scale_interval", 10*time.Second)
	v.SetDefault("pool.worker_timeout", 5*time.Minute)
	v.SetDefault("pool.grace_period", 5*time.Second)
	v.SetDefault("worker.attempts", 3)
	v.SetDefault("worker.pop_timeout", 5*time.Second)
	v.SetDefault("monitor.pop_timeout", 2*time.Second)
	v.SetDefault("monitor.max_iterations", 120)
}

// userConfigDir returns the XDG config directory for foreman.
func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "foreman")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "foreman")
}

// findProjectConfig walks up from the working directory looking for a
// .foreman/config.yaml.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".foreman", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
