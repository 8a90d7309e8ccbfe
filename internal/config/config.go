// Package config loads mhconfigd's runtime configuration via viper,
// following the same env-override-plus-defaults layering the rest of the
// stack uses for its own services.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of tunables for one mhconfigd process.
type Config struct {
	Pool      PoolConfig      `mapstructure:"pool"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	GC        GCConfig        `mapstructure:"gc"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Server    ServerConfig    `mapstructure:"server"`
}

// ServerConfig tunes the minimal HTTP front door (spec §1 Non-goals: the
// real gRPC/YAML front door is out of scope; this only exercises the
// interfaces it would call through).
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// PoolConfig tunes the string interning pool (internal/strpool).
type PoolConfig struct {
	// ChunkSizeBytes is loaded and defaults to 4 MiB, but nothing consumes
	// it: strpool.New takes no size and always allocates 4 MiB arenas.
	ChunkSizeBytes int `mapstructure:"chunk_size_bytes"`
}

// QueueConfig tunes the MPSC/SPMC ring capacities (internal/queue).
type QueueConfig struct {
	SchedulerInboxCapacityLog2 uint `mapstructure:"scheduler_inbox_capacity_log2"`
	WorkerInboxCapacityLog2    uint `mapstructure:"worker_inbox_capacity_log2"`
}

// SchedulerConfig tunes the single scheduler goroutine.
type SchedulerConfig struct {
	// MaxNamespaces caps how many namespaces may be live at once before
	// AddNamespace starts failing (0 means unbounded).
	MaxNamespaces int `mapstructure:"max_namespaces"`
}

// WorkerConfig tunes the worker pool.
type WorkerConfig struct {
	NumWorkers int `mapstructure:"num_workers"`
}

// GCConfig tunes the GC driver's pass cadence.
type GCConfig struct {
	Interval               time.Duration `mapstructure:"interval"`
	NamespaceIdleTimeout   time.Duration `mapstructure:"namespace_idle_timeout"`
	VersionRetentionWindow time.Duration `mapstructure:"version_retention_window"`
}

// LogConfig mirrors pkg/logger.Config so the CLI layer can build a logger
// straight from the loaded file.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig tunes the Prometheus sink.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads configuration from the defaults set below, configPath (if
// non-empty), and environment variables prefixed MHCONFIG_. Following
// viper's usual layering, env beats the file and the file beats the
// defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("mhconfig")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.chunk_size_bytes", 4<<20)

	v.SetDefault("queue.scheduler_inbox_capacity_log2", 10)
	v.SetDefault("queue.worker_inbox_capacity_log2", 8)

	v.SetDefault("scheduler.max_namespaces", 0)

	v.SetDefault("worker.num_workers", 4)

	v.SetDefault("gc.interval", "30s")
	v.SetDefault("gc.namespace_idle_timeout", "10m")
	v.SetDefault("gc.version_retention_window", "1h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("server.addr", ":8080")
}

// Validate rejects configurations that would make the pipeline misbehave
// rather than letting them fail confusingly later.
func (c *Config) Validate() error {
	if c.Worker.NumWorkers <= 0 {
		return fmt.Errorf("worker.num_workers must be positive, got %d", c.Worker.NumWorkers)
	}
	if c.GC.Interval <= 0 {
		return fmt.Errorf("gc.interval must be positive, got %s", c.GC.Interval)
	}
	if c.Scheduler.MaxNamespaces < 0 {
		return fmt.Errorf("scheduler.max_namespaces must not be negative, got %d", c.Scheduler.MaxNamespaces)
	}
	return nil
}
